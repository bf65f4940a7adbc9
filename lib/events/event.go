// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package events carries supervisor notifications to whoever wants
// them: the daemon's health-failure restarter, the output log recorder,
// the journal, an API layer. Producers publish to a Bus; consumers
// subscribe and read a channel. Producers never know their consumers.
package events

import (
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

// Kind classifies an event.
type Kind string

const (
	// KindStatusChange reports a lifecycle transition.
	KindStatusChange Kind = "status-change"

	// KindLogData carries a chunk of worker output.
	KindLogData Kind = "log-data"

	// KindProcessError reports an unexpected exit or a failed
	// automatic restart.
	KindProcessError Kind = "process-error"

	// KindFileChange reports a change to a worker's cycle, KPI, or
	// signal file.
	KindFileChange Kind = "file-change"

	// KindGiveup reports that a worker asked for a human and was
	// paused.
	KindGiveup Kind = "giveup"

	// KindIdleNudge reports that a silent worker was told to continue.
	KindIdleNudge Kind = "idle-nudge"

	// KindMetricsTick carries refreshed cycle and KPI figures.
	KindMetricsTick Kind = "metrics-tick"

	// KindPermanentStop reports that a worker crashed too often within
	// the failure window and will not be restarted automatically.
	KindPermanentStop Kind = "permanent-stop-after-backoff"

	// KindHealthCheckFail reports a failed liveness or responsiveness
	// audit.
	KindHealthCheckFail Kind = "health-check-fail"
)

// Event is one notification. Exactly the payload matching Kind is set.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	StaffID string    `json:"staff_id"`
	Time    time.Time `json:"time"`

	Status        *StatusChange  `json:"status,omitempty"`
	Log           *LogData       `json:"log,omitempty"`
	Error         *ProcessError  `json:"error,omitempty"`
	File          *FileChange    `json:"file,omitempty"`
	Giveup        *Giveup        `json:"giveup,omitempty"`
	Nudge         *IdleNudge     `json:"nudge,omitempty"`
	Metrics       *MetricsTick   `json:"metrics,omitempty"`
	PermanentStop *PermanentStop `json:"permanent_stop,omitempty"`
	Health        *HealthFailure `json:"health,omitempty"`
}

// StatusChange is the payload of KindStatusChange.
type StatusChange struct {
	Status staff.Status `json:"status"`

	// Reason explains transitions not requested by a caller, such as a
	// failed automatic restart.
	Reason string `json:"reason,omitempty"`
}

// LogData is the payload of KindLogData.
type LogData struct {
	Generation uint64 `json:"generation"`
	Data       string `json:"data"`
}

// ProcessError is the payload of KindProcessError.
type ProcessError struct {
	Generation uint64 `json:"generation"`
	PID        int    `json:"pid"`
	ExitCode   int    `json:"exit_code"`
	Message    string `json:"message"`

	// FailureCount is the number of crashes inside the failure window,
	// including this one.
	FailureCount int `json:"failure_count"`

	// RestartIn is the scheduled backoff, zero when no restart follows.
	RestartIn time.Duration `json:"restart_in"`
}

// FileChange is the payload of KindFileChange.
type FileChange struct {
	// File is "cycles", "kpi", or "signals".
	File string `json:"file"`
	Path string `json:"path"`
}

// Giveup is the payload of KindGiveup.
type Giveup struct {
	// Reason is the worker's own explanation, if it gave one.
	Reason string `json:"reason,omitempty"`
}

// IdleNudge is the payload of KindIdleNudge.
type IdleNudge struct {
	Silence time.Duration `json:"silence"`
}

// MetricsTick is the payload of KindMetricsTick.
type MetricsTick struct {
	Cycles int `json:"cycles"`

	// LatestKPI is the raw JSON of the last KPI entry, if any.
	LatestKPI string `json:"latest_kpi,omitempty"`
}

// PermanentStop is the payload of KindPermanentStop.
type PermanentStop struct {
	Failures int           `json:"failures"`
	Window   time.Duration `json:"window"`
}

// HealthFailure is the payload of KindHealthCheckFail.
type HealthFailure struct {
	Reason HealthReason `json:"reason"`
	PID    int          `json:"pid,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

// HealthReason classifies a failed audit.
type HealthReason string

const (
	// HealthNotRunning means the supervisor stopped reporting the
	// worker as running between listing and checking.
	HealthNotRunning HealthReason = "not-running"

	// HealthProcessMissing means the recorded pid does not exist.
	HealthProcessMissing HealthReason = "process-missing"

	// HealthUnresponsive means the worker has been silent past the
	// responsiveness threshold with no child processes.
	HealthUnresponsive HealthReason = "unresponsive"
)
