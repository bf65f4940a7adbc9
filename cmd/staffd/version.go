// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/KoreanThinker/openstaff-sub000/lib/version"
)

func versionCommand() *Command {
	var full bool
	return &Command{
		Name:    "version",
		Summary: "Print the staffd build",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&full, "full", false, "include Go version and platform")
			return flagSet
		},
		Run: func(args []string) error {
			build := version.Current()
			if full {
				fmt.Println(build.Full())
			} else {
				fmt.Println(build)
			}
			return nil
		},
	}
}
