// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/KoreanThinker/openstaff-sub000/lib/codec"
	"github.com/KoreanThinker/openstaff-sub000/lib/events"
	"github.com/KoreanThinker/openstaff-sub000/lib/journal"
)

func eventsCommand() *Command {
	var (
		flags   commonFlags
		staffID string
		kinds   []string
		raw     bool
	)
	return &Command{
		Name:    "events",
		Summary: "Print the event journal",
		Description: "Print every event the daemon recorded, oldest first. Log output is\n" +
			"omitted unless --kind log-data is given; use \"staffd logs\" for it.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("events", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&staffID, "staff", "", "only events for this staff id")
			flagSet.StringSliceVar(&kinds, "kind", nil, "only events of these kinds (repeatable)")
			flagSet.BoolVar(&raw, "raw", false, "print CBOR diagnostic notation")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			filter := eventFilter{staffID: staffID, kinds: kinds}
			err = journal.Read(cfg.Paths.Journal, func(event events.Event) error {
				if !filter.matches(event) {
					return nil
				}
				if raw {
					return printRawEvent(os.Stdout, event)
				}
				_, err := fmt.Fprintln(os.Stdout, formatEvent(event))
				return err
			})
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(os.Stderr, "no events recorded")
				return nil
			}
			return err
		},
	}
}

type eventFilter struct {
	staffID string
	kinds   []string
}

func (f eventFilter) matches(event events.Event) bool {
	if f.staffID != "" && event.StaffID != f.staffID {
		return false
	}
	if len(f.kinds) == 0 {
		return event.Kind != events.KindLogData
	}
	for _, kind := range f.kinds {
		if events.Kind(kind) == event.Kind {
			return true
		}
	}
	return false
}

func printRawEvent(writer io.Writer, event events.Event) error {
	data, err := codec.Marshal(event)
	if err != nil {
		return err
	}
	diagnostic, err := codec.Diagnose(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(writer, diagnostic)
	return err
}

// formatEvent renders one event as a single human-readable line.
func formatEvent(event events.Event) string {
	prefix := fmt.Sprintf("%s  %-28s %s", event.Time.Local().Format(time.DateTime), event.Kind, event.StaffID)
	detail := eventDetail(event)
	if detail == "" {
		return prefix
	}
	return prefix + "  " + detail
}

func eventDetail(event events.Event) string {
	switch {
	case event.Status != nil:
		if event.Status.Reason != "" {
			return fmt.Sprintf("%s (%s)", event.Status.Status, event.Status.Reason)
		}
		return string(event.Status.Status)
	case event.Log != nil:
		return fmt.Sprintf("%q", strings.TrimRight(event.Log.Data, "\r\n"))
	case event.Error != nil:
		detail := fmt.Sprintf("pid %d exit %d failures %d", event.Error.PID, event.Error.ExitCode, event.Error.FailureCount)
		if event.Error.RestartIn > 0 {
			detail += fmt.Sprintf(" restart in %s", event.Error.RestartIn)
		}
		if event.Error.Message != "" {
			detail += ": " + event.Error.Message
		}
		return detail
	case event.File != nil:
		return fmt.Sprintf("%s %s", event.File.File, event.File.Path)
	case event.Giveup != nil:
		return event.Giveup.Reason
	case event.Nudge != nil:
		return fmt.Sprintf("silent for %s", event.Nudge.Silence.Round(time.Second))
	case event.Metrics != nil:
		if event.Metrics.LatestKPI != "" {
			return fmt.Sprintf("cycles %d kpi %s", event.Metrics.Cycles, event.Metrics.LatestKPI)
		}
		return fmt.Sprintf("cycles %d", event.Metrics.Cycles)
	case event.PermanentStop != nil:
		return fmt.Sprintf("%d failures within %s", event.PermanentStop.Failures, event.PermanentStop.Window)
	case event.Health != nil:
		detail := string(event.Health.Reason)
		if event.Health.PID != 0 {
			detail += fmt.Sprintf(" pid %d", event.Health.PID)
		}
		if event.Health.Detail != "" {
			detail += ": " + event.Health.Detail
		}
		return detail
	}
	return ""
}
