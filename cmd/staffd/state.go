// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/KoreanThinker/openstaff-sub000/lib/roster"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

// stateRow is one line of "staffd state".
type stateRow struct {
	StaffID       string    `json:"staff_id"`
	Defined       bool      `json:"defined"`
	Disposition   string    `json:"disposition"`
	SessionID     string    `json:"session_id,omitempty"`
	LastStartedAt time.Time `json:"last_started_at,omitzero"`
}

func stateCommand() *Command {
	var (
		flags      commonFlags
		jsonOutput bool
	)
	return &Command{
		Name:    "state",
		Summary: "Show the persisted state of every staff",
		Description: "List every staff that has a definition or a persisted record. The\n" +
			"disposition is what the next daemon start will do with it: \"recover\",\n" +
			"\"paused\", or \"stopped\".",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("state", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			rows, err := loadStateRows(&flags)
			if err != nil {
				return err
			}
			if jsonOutput {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(rows)
			}
			return printStateRows(os.Stdout, rows)
		},
	}
}

func loadStateRows(flags *commonFlags) ([]stateRow, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	logger := flags.newLogger()

	database, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer database.Close()

	states, err := database.States(context.Background())
	if err != nil {
		return nil, err
	}
	defined, err := roster.New(cfg.Paths.Staff).IDs()
	if err != nil {
		return nil, err
	}
	return stateRows(defined, states), nil
}

// stateRows merges roster ids with persisted states, sorted by id.
func stateRows(defined []string, states map[string]staff.State) []stateRow {
	byID := make(map[string]*stateRow)
	for _, staffID := range defined {
		byID[staffID] = &stateRow{StaffID: staffID, Defined: true, Disposition: disposition(staff.State{})}
	}
	for staffID, state := range states {
		row, ok := byID[staffID]
		if !ok {
			row = &stateRow{StaffID: staffID}
			byID[staffID] = row
		}
		row.Disposition = disposition(state)
		row.SessionID = state.SessionID
		row.LastStartedAt = state.LastStartedAt
	}

	rows := make([]stateRow, 0, len(byID))
	for _, row := range byID {
		rows = append(rows, *row)
	}
	slices.SortFunc(rows, func(a, b stateRow) int {
		switch {
		case a.StaffID < b.StaffID:
			return -1
		case a.StaffID > b.StaffID:
			return 1
		}
		return 0
	})
	return rows
}

func disposition(state staff.State) string {
	switch {
	case state.Paused:
		return "paused"
	case state.WantsRecovery():
		return "recover"
	default:
		return "stopped"
	}
}

func printStateRows(writer io.Writer, rows []stateRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(writer, "no staff defined")
		return err
	}
	table := tabwriter.NewWriter(writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "STAFF\tDISPOSITION\tSESSION\tLAST STARTED")
	for _, row := range rows {
		staffID := row.StaffID
		if !row.Defined {
			staffID += " (undefined)"
		}
		session := row.SessionID
		if session == "" {
			session = "-"
		}
		started := "-"
		if !row.LastStartedAt.IsZero() {
			started = row.LastStartedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\n", staffID, row.Disposition, session, started)
	}
	return table.Flush()
}
