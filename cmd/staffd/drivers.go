// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
)

func driversCommand() *Command {
	var flags commonFlags
	return &Command{
		Name:    "drivers",
		Summary: "List agent drivers and their install state",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("drivers", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			registry, err := newRegistry(cfg, clock.Real(), flags.newLogger())
			if err != nil {
				return err
			}
			ctx := context.Background()
			table := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(table, "AGENT TYPE\tINSTALLED\tVERSION")
			for _, agentType := range registry.AgentTypes() {
				agentDriver, _ := registry.Driver(agentType)
				installed := agentDriver.IsInstalled(ctx)
				version := "-"
				if installed {
					if detected, ok := agentDriver.Version(ctx); ok {
						version = detected
					}
				}
				fmt.Fprintf(table, "%s\t%t\t%s\n", agentType, installed, version)
			}
			return table.Flush()
		},
	}
}

func installCommand() *Command {
	var flags commonFlags
	return &Command{
		Name:    "install",
		Summary: "Install an agent binary",
		Usage:   "staffd install [flags] <agent-type>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("install", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one agent type, got %d arguments", len(args))
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger := flags.newLogger()
			registry, err := newRegistry(cfg, clock.Real(), logger)
			if err != nil {
				return err
			}
			agentType := args[0]
			agentDriver, ok := registry.Driver(agentType)
			if !ok {
				return fmt.Errorf("unknown agent type %q (available: %v)", agentType, registry.AgentTypes())
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			interactive := term.IsTerminal(int(os.Stderr.Fd()))
			err = agentDriver.Install(ctx, func(percent int) {
				if interactive {
					fmt.Fprint(os.Stderr, progressLine(agentType, percent))
				} else {
					logger.Info("installing", "agent_type", agentType, "percent", percent)
				}
			})
			if interactive {
				fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				return fmt.Errorf("installing %s: %w", agentType, err)
			}
			if version, ok := agentDriver.Version(ctx); ok {
				fmt.Fprintf(os.Stdout, "%s %s installed\n", agentType, version)
			} else {
				fmt.Fprintf(os.Stdout, "%s installed\n", agentType)
			}
			return nil
		},
	}
}

// progressLine redraws the current terminal line with a progress bar.
func progressLine(label string, percent int) string {
	percent = min(max(percent, 0), 100)
	const width = 30
	filled := width * percent / 100
	bar := make([]rune, width)
	for index := range bar {
		if index < filled {
			bar[index] = '#'
		} else {
			bar[index] = '.'
		}
	}
	return "\r" + ansi.EraseEntireLine + fmt.Sprintf("%s [%s] %3d%%", label, string(bar), percent)
}
