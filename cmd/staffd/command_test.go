// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommandDispatchesToSubcommand(t *testing.T) {
	t.Parallel()

	var called string
	root := &Command{
		Name: "staffd",
		Subcommands: []*Command{
			{Name: "state", Run: func(args []string) error { called = "state"; return nil }},
			{Name: "events", Run: func(args []string) error { called = "events"; return nil }},
		},
	}
	if err := root.Execute([]string{"events"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "events" {
		t.Errorf("dispatched to %q, want %q", called, "events")
	}
}

func TestCommandParsesFlags(t *testing.T) {
	t.Parallel()

	var (
		staffID string
		rest    []string
	)
	command := &Command{
		Name: "logs",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			flagSet.StringVar(&staffID, "staff", "", "")
			return flagSet
		},
		Run: func(args []string) error {
			rest = args
			return nil
		},
	}
	if err := command.Execute([]string{"--staff", "writer", "extra"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if staffID != "writer" {
		t.Errorf("staff = %q, want %q", staffID, "writer")
	}
	if len(rest) != 1 || rest[0] != "extra" {
		t.Errorf("args = %v, want [extra]", rest)
	}
}

func TestCommandSuggestsNearMiss(t *testing.T) {
	t.Parallel()

	root := &Command{
		Name: "staffd",
		Subcommands: []*Command{
			{Name: "secret", Run: func([]string) error { return nil }},
			{Name: "state", Run: func([]string) error { return nil }},
		},
	}
	err := root.Execute([]string{"secrte"})
	if err == nil {
		t.Fatal("Execute() succeeded for an unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "secret"`) {
		t.Errorf("error = %q, want a suggestion of secret", err)
	}

	err = root.Execute([]string{"completely-different"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want an unknown command error without suggestion", err)
	}
}

func TestCommandRequiresSubcommand(t *testing.T) {
	t.Parallel()

	root := &Command{
		Name:        "secret",
		Subcommands: []*Command{{Name: "set", Run: func([]string) error { return nil }}},
	}
	if err := root.Execute(nil); err == nil {
		t.Error("Execute() with no subcommand succeeded")
	}
}

func TestPrintHelp(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	root().PrintHelp(&output)
	help := output.String()
	for _, name := range []string{"run", "state", "secret", "events", "logs", "drivers", "install", "version"} {
		if !strings.Contains(help, "  "+name) {
			t.Errorf("help does not list %q:\n%s", name, help)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"run", "run", 0},
		{"run", "rnu", 2},
		{"logs", "log", 1},
		{"state", "", 5},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
