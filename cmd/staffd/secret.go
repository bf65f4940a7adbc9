// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"golang.org/x/term"
)

func secretCommand() *Command {
	return &Command{
		Name:    "secret",
		Summary: "Manage credentials and skill settings",
		Description: "Settings hold agent credentials (for example anthropic_api_key) and skill\n" +
			"environment values (skill.<name>.<VARIABLE>). Values set here are sealed\n" +
			"with the local identity before they are stored.",
		Subcommands: []*Command{
			secretSetCommand(),
			secretListCommand(),
			secretDeleteCommand(),
		},
	}
}

func secretSetCommand() *Command {
	var (
		flags commonFlags
		plain bool
	)
	return &Command{
		Name:    "set",
		Summary: "Store a setting",
		Usage:   "staffd secret set [flags] <key>",
		Description: "Read the value from the terminal without echo, or from standard input\n" +
			"when it is not a terminal.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("set", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&plain, "plain", false, "store the value without sealing it")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one key, got %d arguments", len(args))
			}
			key := args[0]
			value, err := readSecretValue(os.Stdin, key)
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value for %s", key)
			}

			cfg, err := flags.load()
			if err != nil {
				return err
			}
			database, err := openStore(cfg, flags.newLogger())
			if err != nil {
				return err
			}
			defer database.Close()

			if plain {
				return database.Set(context.Background(), key, value)
			}
			return database.SetSecret(context.Background(), key, value)
		},
	}
}

// readSecretValue prompts on a terminal and otherwise reads the first
// line of input.
func readSecretValue(input *os.File, key string) (string, error) {
	if term.IsTerminal(int(input.Fd())) {
		fmt.Fprintf(os.Stderr, "Value for %s: ", key)
		value, err := term.ReadPassword(int(input.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading value: %w", err)
		}
		return strings.TrimSpace(string(value)), nil
	}
	return readFirstLine(input)
}

func readFirstLine(reader io.Reader) (string, error) {
	line, err := bufio.NewReader(reader).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading value: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func secretListCommand() *Command {
	var flags commonFlags
	return &Command{
		Name:    "list",
		Summary: "List stored setting keys",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			database, err := openStore(cfg, flags.newLogger())
			if err != nil {
				return err
			}
			defer database.Close()

			settings, err := database.Settings(context.Background())
			if err != nil {
				return err
			}
			table := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(table, "KEY\tSEALED")
			for _, setting := range settings {
				fmt.Fprintf(table, "%s\t%t\n", setting.Key, setting.Sealed)
			}
			return table.Flush()
		},
	}
}

func secretDeleteCommand() *Command {
	var flags commonFlags
	return &Command{
		Name:    "delete",
		Summary: "Remove a setting",
		Usage:   "staffd secret delete [flags] <key>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("delete", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one key, got %d arguments", len(args))
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			database, err := openStore(cfg, flags.newLogger())
			if err != nil {
				return err
			}
			defer database.Close()
			return database.Delete(context.Background(), args[0])
		},
	}
}
