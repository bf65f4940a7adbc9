// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "time"

// DefaultInitialPrompt is sent to a freshly spawned worker once
// InitialPromptDelay has passed.
const DefaultInitialPrompt = "Read AGENTS.md and start your loop: gather, execute, evaluate. " +
	"Append a line to cycles.jsonl after every completed cycle."

// DefaultNudgeMessage is sent to a worker that has been silent past
// IdleThreshold with no child processes.
const DefaultNudgeMessage = "Continue your loop from where you left off. " +
	"If you cannot continue without a human, append a giveup entry to signals.jsonl."

// Policy holds the supervisor's timing and restart rules. Zero fields
// take the value from DefaultPolicy.
type Policy struct {
	// IdleCheckInterval is the period of each worker's idle check.
	IdleCheckInterval time.Duration

	// IdleThreshold is the output silence that triggers a nudge.
	IdleThreshold time.Duration

	// InitialPromptDelay separates a fresh spawn from its first prompt.
	InitialPromptDelay time.Duration

	// Backoff is indexed by the crash count inside FailureWindow minus
	// one; counts past the end use the last entry.
	Backoff []time.Duration

	// FailureWindow is the rolling window crashes are counted in.
	FailureWindow time.Duration

	// MaxFailures is the crash count at which restarts stop.
	MaxFailures int

	InitialPrompt string
	NudgeMessage  string
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		IdleCheckInterval:  time.Minute,
		IdleThreshold:      5 * time.Minute,
		InitialPromptDelay: 3 * time.Second,
		Backoff:            []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute, 5 * time.Minute},
		FailureWindow:      10 * time.Minute,
		MaxFailures:        3,
		InitialPrompt:      DefaultInitialPrompt,
		NudgeMessage:       DefaultNudgeMessage,
	}
}

func (p Policy) withDefaults() Policy {
	defaults := DefaultPolicy()
	if p.IdleCheckInterval <= 0 {
		p.IdleCheckInterval = defaults.IdleCheckInterval
	}
	if p.IdleThreshold <= 0 {
		p.IdleThreshold = defaults.IdleThreshold
	}
	if p.InitialPromptDelay <= 0 {
		p.InitialPromptDelay = defaults.InitialPromptDelay
	}
	if len(p.Backoff) == 0 {
		p.Backoff = defaults.Backoff
	}
	if p.FailureWindow <= 0 {
		p.FailureWindow = defaults.FailureWindow
	}
	if p.MaxFailures <= 0 {
		p.MaxFailures = defaults.MaxFailures
	}
	if p.InitialPrompt == "" {
		p.InitialPrompt = defaults.InitialPrompt
	}
	if p.NudgeMessage == "" {
		p.NudgeMessage = defaults.NudgeMessage
	}
	return p
}

// backoff returns the restart delay after the count-th crash.
func (p Policy) backoff(count int) time.Duration {
	index := min(max(count-1, 0), len(p.Backoff)-1)
	return p.Backoff[index]
}
