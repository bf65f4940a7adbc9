// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/pflag"

	"github.com/KoreanThinker/openstaff-sub000/lib/outputlog"
)

func logsCommand() *Command {
	var (
		flags    commonFlags
		segments int
	)
	return &Command{
		Name:        "logs",
		Summary:     "Print a staff's recorded output",
		Usage:       "staffd logs [flags] <staff-id>",
		Description: "Print rotated segments oldest first, then the active log.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.IntVar(&segments, "segments", -1, "number of rotated segments to include (-1 for all)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one staff id, got %d arguments", len(args))
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			staffID := args[0]

			rotated, err := outputlog.Segments(cfg.Paths.Logs, staffID)
			if err != nil {
				return err
			}
			if segments >= 0 && len(rotated) > segments {
				rotated = rotated[len(rotated)-segments:]
			}
			for _, path := range rotated {
				if err := outputlog.CopySegment(os.Stdout, path); err != nil {
					return err
				}
			}

			err = copyActive(os.Stdout, outputlog.ActivePath(cfg.Paths.Logs, staffID))
			if errors.Is(err, fs.ErrNotExist) {
				if len(rotated) == 0 {
					return fmt.Errorf("no output recorded for %s", staffID)
				}
				return nil
			}
			return err
		},
	}
}

func copyActive(writer io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(writer, file)
	return err
}
