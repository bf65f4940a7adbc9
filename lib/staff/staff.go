// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package staff defines the data model shared by the supervisor and its
// collaborators: the externally owned worker definition (Config), the
// persisted per-worker record (State), the lifecycle Status, and the
// error taxonomy surfaced to callers.
package staff

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle position of one worker. A worker is in
// exactly one status at any instant.
type Status string

const (
	// StatusStopped means no process exists and none is being created.
	StatusStopped Status = "stopped"

	// StatusStarting means a start sequence is in flight.
	StatusStarting Status = "starting"

	// StatusRunning means a registered process exists.
	StatusRunning Status = "running"

	// StatusPaused means the worker was deliberately halted and will
	// not be recovered until resumed.
	StatusPaused Status = "paused"
)

// Skill is one skill attached to a worker.
type Skill struct {
	// Name identifies the skill directory under the skills root.
	Name string `json:"name"`

	// Environment lists the environment variable names the skill
	// needs. Values are resolved from the settings store under the key
	// "skill.<name>.<VARIABLE>".
	Environment []string `json:"environment,omitempty"`
}

// Config is the read-only definition of a worker, supplied by the
// roster at start time.
type Config struct {
	// ID is the stable worker identity.
	ID string `json:"id"`

	// Name and Role are descriptive and rendered into the worker's
	// instruction file.
	Name string `json:"name"`
	Role string `json:"role,omitempty"`

	// AgentType selects the driver (for example "claude-code").
	AgentType string `json:"agent_type"`

	// Model is passed to the driver. Empty selects the agent's default.
	Model string `json:"model,omitempty"`

	// Gather, Execute and Evaluate are the loop instructions.
	Gather   string `json:"gather"`
	Execute  string `json:"execute"`
	Evaluate string `json:"evaluate"`

	// KPI describes what the worker measures itself against.
	KPI string `json:"kpi,omitempty"`

	Skills []Skill `json:"skills,omitempty"`
}

// Validate reports the first structural problem with the definition.
func (c Config) Validate() error {
	if c.ID == "" {
		return errors.New("staff config: id is required")
	}
	if c.AgentType == "" {
		return fmt.Errorf("staff config %q: agent_type is required", c.ID)
	}
	for _, skill := range c.Skills {
		if skill.Name == "" {
			return fmt.Errorf("staff config %q: skill with empty name", c.ID)
		}
	}
	return nil
}

// State is the persisted record for one worker. It survives process
// and application restarts.
type State struct {
	// SessionID is the agent's conversation identifier, used to resume
	// context. Empty means none is known.
	SessionID string

	// LastStartedAt is when the worker was last started. The zero
	// value means the worker is not meant to be running.
	LastStartedAt time.Time

	// Paused is set while the worker is deliberately halted.
	Paused bool
}

// WantsRecovery reports whether a worker with this state should be
// started again when the supervisor initializes.
func (s State) WantsRecovery() bool {
	return !s.Paused && s.SessionID != "" && !s.LastStartedAt.IsZero()
}
