// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/events"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
	"github.com/KoreanThinker/openstaff-sub000/lib/testutil"
)

var started = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestStateRows(t *testing.T) {
	t.Parallel()

	rows := stateRows(
		[]string{"writer", "analyst", "idle"},
		map[string]staff.State{
			"writer":  {SessionID: "abc", LastStartedAt: started},
			"analyst": {SessionID: "def", LastStartedAt: started, Paused: true},
			"retired": {SessionID: "ghi"},
		},
	)

	want := []stateRow{
		{StaffID: "analyst", Defined: true, Disposition: "paused", SessionID: "def", LastStartedAt: started},
		{StaffID: "idle", Defined: true, Disposition: "stopped"},
		{StaffID: "retired", Disposition: "stopped", SessionID: "ghi"},
		{StaffID: "writer", Defined: true, Disposition: "recover", SessionID: "abc", LastStartedAt: started},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v, want %+v", rows, want)
	}
	for index := range want {
		if rows[index] != want[index] {
			t.Errorf("rows[%d] = %+v, want %+v", index, rows[index], want[index])
		}
	}

	var output bytes.Buffer
	if err := printStateRows(&output, rows); err != nil {
		t.Fatalf("printStateRows: %v", err)
	}
	if !strings.Contains(output.String(), "retired (undefined)") {
		t.Errorf("table does not mark undefined staff:\n%s", output.String())
	}
}

func TestEventFilter(t *testing.T) {
	t.Parallel()

	logEvent := events.Event{Kind: events.KindLogData, StaffID: "writer"}
	statusEvent := events.Event{Kind: events.KindStatusChange, StaffID: "writer"}
	otherEvent := events.Event{Kind: events.KindStatusChange, StaffID: "analyst"}

	tests := []struct {
		name   string
		filter eventFilter
		event  events.Event
		want   bool
	}{
		{"log data hidden by default", eventFilter{}, logEvent, false},
		{"status shown by default", eventFilter{}, statusEvent, true},
		{"log data requested", eventFilter{kinds: []string{"log-data"}}, logEvent, true},
		{"kind excluded", eventFilter{kinds: []string{"giveup"}}, statusEvent, false},
		{"staff matches", eventFilter{staffID: "writer"}, statusEvent, true},
		{"staff differs", eventFilter{staffID: "writer"}, otherEvent, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if got := test.filter.matches(test.event); got != test.want {
				t.Errorf("matches() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestEventDetail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event events.Event
		want  string
	}{
		{
			events.Event{Status: &events.StatusChange{Status: staff.StatusStopped, Reason: "restart failed"}},
			"stopped (restart failed)",
		},
		{
			events.Event{Error: &events.ProcessError{PID: 12, ExitCode: 1, FailureCount: 2, RestartIn: time.Minute}},
			"pid 12 exit 1 failures 2 restart in 1m0s",
		},
		{
			events.Event{Health: &events.HealthFailure{Reason: events.HealthUnresponsive, PID: 7}},
			"unresponsive pid 7",
		},
		{
			events.Event{Nudge: &events.IdleNudge{Silence: 5*time.Minute + 400*time.Millisecond}},
			"silent for 5m0s",
		},
		{events.Event{Kind: events.KindGiveup}, ""},
	}
	for _, test := range tests {
		if got := eventDetail(test.event); got != test.want {
			t.Errorf("eventDetail(%+v) = %q, want %q", test.event, got, test.want)
		}
	}
}

func TestPrintRawEvent(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	err := printRawEvent(&output, events.Event{Kind: events.KindGiveup, StaffID: "writer"})
	if err != nil {
		t.Fatalf("printRawEvent: %v", err)
	}
	if !strings.Contains(output.String(), `"writer"`) {
		t.Errorf("diagnostic output = %q, want the staff id", output.String())
	}
}

func TestReadFirstLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"sk-123\n", "sk-123"},
		{"sk-123\r\nignored\n", "sk-123"},
		{"no-newline", "no-newline"},
		{"", ""},
	}
	for _, test := range tests {
		got, err := readFirstLine(strings.NewReader(test.input))
		if err != nil {
			t.Fatalf("readFirstLine(%q): %v", test.input, err)
		}
		if got != test.want {
			t.Errorf("readFirstLine(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestProgressLine(t *testing.T) {
	t.Parallel()

	line := progressLine("claude-code", 50)
	if !strings.HasSuffix(line, "claude-code [###############...............]  50%") {
		t.Errorf("progressLine(50) = %q", line)
	}
	if !strings.HasSuffix(progressLine("x", 150), "100%") {
		t.Error("progress above 100 is not clamped")
	}
}

type recordingRestarter struct {
	mu       sync.Mutex
	restarts []string
	done     chan struct{}

	// release, when set, holds each Restart until it is closed.
	release    chan struct{}
	contextErr error
}

func (r *recordingRestarter) Restart(ctx context.Context, staffID string) error {
	r.mu.Lock()
	r.restarts = append(r.restarts, staffID)
	r.mu.Unlock()
	r.done <- struct{}{}
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	r.contextErr = ctx.Err()
	r.mu.Unlock()
	return nil
}

func unresponsive(staffID string) events.Event {
	return events.Event{
		Kind:    events.KindHealthCheckFail,
		StaffID: staffID,
		Health:  &events.HealthFailure{Reason: events.HealthUnresponsive, PID: 9},
	}
}

func TestRestartUnhealthySkipsNotRunning(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(clock.Fake(started))
	subscription := bus.Subscribe(8, events.KindHealthCheckFail)
	target := &recordingRestarter{done: make(chan struct{}, 8)}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		restartUnhealthy(ctx, target, subscription, slog.New(slog.DiscardHandler))
		close(finished)
	}()

	bus.Publish(events.Event{
		Kind:    events.KindHealthCheckFail,
		StaffID: "gone",
		Health:  &events.HealthFailure{Reason: events.HealthNotRunning},
	})
	bus.Publish(unresponsive("stuck"))

	select {
	case <-target.done:
	case <-time.After(5 * time.Second):
		t.Fatal("unresponsive staff was not restarted")
	}
	cancel()
	<-finished

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.restarts) != 1 || target.restarts[0] != "stuck" {
		t.Errorf("restarts = %v, want [stuck]", target.restarts)
	}
}

func TestRestartUnhealthyFinishesRestartOnShutdown(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(clock.Fake(started))
	subscription := bus.Subscribe(8, events.KindHealthCheckFail)
	target := &recordingRestarter{done: make(chan struct{}, 8), release: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		restartUnhealthy(ctx, target, subscription, slog.New(slog.DiscardHandler))
		close(finished)
	}()

	bus.Publish(unresponsive("first"))
	testutil.RequireReceive(t, target.done, 5*time.Second, "first restart never began")
	bus.Publish(unresponsive("second"))
	cancel()

	select {
	case <-finished:
		t.Fatal("restartUnhealthy returned while a restart was in flight")
	default:
	}
	close(target.release)
	testutil.RequireClosed(t, finished, 5*time.Second, "restartUnhealthy did not return after shutdown")

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.restarts) != 1 || target.restarts[0] != "first" {
		t.Errorf("restarts = %v, want [first]", target.restarts)
	}
	if target.contextErr != nil {
		t.Errorf("in-flight restart saw context error %v", target.contextErr)
	}
}
