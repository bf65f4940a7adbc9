// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package staff

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no definition exists for a worker id.
	ErrNotFound = errors.New("staff not found")

	// ErrDriverUnavailable is returned when no driver is registered
	// for the worker's agent type.
	ErrDriverUnavailable = errors.New("driver unavailable")

	// ErrNotInstalled is returned when the driver's agent binary is
	// not present on this machine.
	ErrNotInstalled = errors.New("agent not installed")

	// ErrMissingSessionID is returned by Resume when no session id is
	// supplied.
	ErrMissingSessionID = errors.New("missing session id")

	// ErrKillFailed is returned when a process survives both the
	// graceful and the forceful termination signal.
	ErrKillFailed = errors.New("process survived termination")
)

// CrashError records one unexpected process exit.
type CrashError struct {
	StaffID    string
	Generation uint64
	PID        int
	ExitCode   int
	Time       time.Time
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("staff %s: process %d (generation %d) exited unexpectedly with code %d",
		e.StaffID, e.PID, e.Generation, e.ExitCode)
}
