// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// staffd supervises long-running staff agents. "staffd run" is the
// daemon; the other commands inspect and configure its state directory.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return root().Execute(os.Args[1:])
}

func root() *Command {
	return &Command{
		Name:    "staffd",
		Summary: "Supervise staff agents",
		Description: "staffd keeps staff agents running: it restarts them after crashes,\n" +
			"nudges them when idle, pauses them when they give up, and records\n" +
			"everything they do. Configuration is read from --config or STAFF_CONFIG.",
		Subcommands: []*Command{
			runCommand(),
			stateCommand(),
			secretCommand(),
			eventsCommand(),
			logsCommand(),
			driversCommand(),
			installCommand(),
			versionCommand(),
		},
	}
}
