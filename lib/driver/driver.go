// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package driver defines the boundary between the supervisor and a
// specific agent binary. Each agent type (Claude Code, Codex, ...)
// implements Driver; the supervisor resolves one from a Registry at
// start time and never inspects agent-specific behavior.
//
// Drivers build their process handles on [Handle], which implements
// output fan-out, session id capture, and exit notification once, so
// that every agent type honors the same Process contract.
package driver

import (
	"context"
	"os"
)

// Process is a live agent process.
type Process interface {
	// PID returns the operating system process id.
	PID() int

	// SessionID returns the agent's conversation identifier once it
	// is known, or "" before then.
	SessionID() string

	// SetSessionID overrides the session identifier slot.
	SetSessionID(id string)

	// Write submits text to the agent as if typed by a user.
	Write(text string) error

	// OnData registers a callback for raw output chunks. Output
	// produced before the first registration is replayed to it.
	OnData(callback func(data string))

	// OnExit registers a callback for process termination. If the
	// process has already exited the callback runs immediately.
	OnExit(callback func(exitCode int))

	// Signal delivers sig to the process group.
	Signal(sig os.Signal) error

	// Done is closed once the process has exited.
	Done() <-chan struct{}

	// Dispose releases the terminal and drops registered callbacks.
	// It does not signal the process.
	Dispose()
}

// SpawnOptions configures a new or resumed agent process.
type SpawnOptions struct {
	// WorkingDirectory is the worker's prepared workspace.
	WorkingDirectory string

	// ExtraEnv is appended to the daemon's environment, in
	// "KEY=VALUE" form.
	ExtraEnv []string

	// Model selects the agent's model. Empty uses the agent default.
	Model string
}

// Driver is implemented once per agent type.
type Driver interface {
	// IsInstalled reports whether the agent binary is available.
	IsInstalled(ctx context.Context) bool

	// Install installs the agent binary, reporting progress from 0 to
	// 100. Progress reporting is best effort.
	Install(ctx context.Context, progress func(percent int)) error

	// Version returns the installed agent version. The boolean is
	// false when the version cannot be determined.
	Version(ctx context.Context) (string, bool)

	// Spawn starts a fresh conversational session.
	Spawn(ctx context.Context, options SpawnOptions) (Process, error)

	// Resume restores a prior session. Returns an error wrapping
	// staff.ErrMissingSessionID when sessionID is empty.
	Resume(ctx context.Context, options SpawnOptions, sessionID string) (Process, error)

	// Kill terminates the process, escalating from a graceful signal
	// to a forceful one.
	Kill(ctx context.Context, process Process) error
}
