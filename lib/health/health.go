// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package health audits the workers a supervisor reports as running.
// A sweep checks that each worker is still registered, that its
// process exists, and that it has produced output recently or is busy
// in a child process. Failures are published as events; the monitor
// never restarts anything itself.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/events"
)

// Supervisor is the view of the supervisor the monitor audits.
type Supervisor interface {
	Running() []string
	IsRunning(staffID string) bool
	ProcessID(staffID string) (int, bool)
	LastOutput(staffID string) (time.Time, bool)
}

// Prober answers operating system questions about a pid.
type Prober interface {
	IsAlive(pid int) (bool, error)
	HasChildren(pid int) (bool, error)
}

// Publisher receives health-check-fail events.
type Publisher interface {
	Publish(event events.Event)
}

// Config configures a Monitor.
type Config struct {
	Supervisor Supervisor
	Prober     Prober
	Events     Publisher

	// Interval is the time between sweeps. Default 60s.
	Interval time.Duration

	// ResponsivenessThreshold is the output silence after which a
	// worker without child processes fails. Default 10m.
	ResponsivenessThreshold time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Failure is one failed audit.
type Failure struct {
	StaffID string
	Reason  events.HealthReason
	PID     int
	Detail  string
}

// Monitor runs periodic sweeps.
type Monitor struct {
	supervisor Supervisor
	prober     Prober
	events     Publisher
	interval   time.Duration
	threshold  time.Duration
	clock      clock.Clock
	logger     *slog.Logger
}

// New returns a Monitor.
func New(config Config) *Monitor {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.ResponsivenessThreshold <= 0 {
		config.ResponsivenessThreshold = 10 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Monitor{
		supervisor: config.Supervisor,
		prober:     config.Prober,
		events:     config.Events,
		interval:   config.Interval,
		threshold:  config.ResponsivenessThreshold,
		clock:      config.Clock,
		logger:     config.Logger,
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("health monitor started",
		"interval", m.interval,
		"responsiveness_threshold", m.threshold,
	)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.Sweep(ctx)
	}
}

// Sweep audits every running worker once and returns the failures it
// published. An error probing one worker is logged and does not stop
// the sweep.
func (m *Monitor) Sweep(ctx context.Context) []Failure {
	var failures []Failure
	for _, staffID := range m.supervisor.Running() {
		if ctx.Err() != nil {
			break
		}
		failure, err := m.check(staffID)
		if err != nil {
			m.logger.Warn("health check error", "staff_id", staffID, "error", err)
			continue
		}
		if failure == nil {
			continue
		}
		m.logger.Warn("health check failed",
			"staff_id", staffID,
			"reason", failure.Reason,
			"pid", failure.PID,
			"detail", failure.Detail,
		)
		m.events.Publish(events.Event{
			Kind:    events.KindHealthCheckFail,
			StaffID: staffID,
			Health: &events.HealthFailure{
				Reason: failure.Reason,
				PID:    failure.PID,
				Detail: failure.Detail,
			},
		})
		failures = append(failures, *failure)
	}
	return failures
}

// check returns nil when staffID is healthy.
func (m *Monitor) check(staffID string) (*Failure, error) {
	if !m.supervisor.IsRunning(staffID) {
		return &Failure{StaffID: staffID, Reason: events.HealthNotRunning}, nil
	}

	pid, known := m.supervisor.ProcessID(staffID)
	if known {
		alive, err := m.prober.IsAlive(pid)
		if err != nil {
			return nil, fmt.Errorf("probing pid %d: %w", pid, err)
		}
		if !alive {
			return &Failure{StaffID: staffID, Reason: events.HealthProcessMissing, PID: pid}, nil
		}
	}

	lastOutput, ok := m.supervisor.LastOutput(staffID)
	if !ok {
		return nil, nil
	}
	silence := m.clock.Now().Sub(lastOutput)
	if silence <= m.threshold || !known {
		return nil, nil
	}
	busy, err := m.prober.HasChildren(pid)
	if err != nil {
		return nil, fmt.Errorf("listing children of pid %d: %w", pid, err)
	}
	if busy {
		return nil, nil
	}
	return &Failure{
		StaffID: staffID,
		Reason:  events.HealthUnresponsive,
		PID:     pid,
		Detail:  fmt.Sprintf("no output for %s", silence.Round(time.Second)),
	}, nil
}
