// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/driver"
	"github.com/KoreanThinker/openstaff-sub000/lib/driver/drivertest"
	"github.com/KoreanThinker/openstaff-sub000/lib/events"
	"github.com/KoreanThinker/openstaff-sub000/lib/signalfile"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const fakeAgent = "fake-agent"

type fakeRoster struct {
	mu      sync.Mutex
	configs map[string]staff.Config
}

func (r *fakeRoster) Config(staffID string) (staff.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	config, ok := r.configs[staffID]
	if !ok {
		return staff.Config{}, fmt.Errorf("staff %q: %w", staffID, staff.ErrNotFound)
	}
	return config, nil
}

type fakeWorkspaces struct {
	root string

	// gate, when set, blocks Prepare until it is closed.
	gate chan struct{}
}

func (w *fakeWorkspaces) Prepare(ctx context.Context, config staff.Config) (string, error) {
	if w.gate != nil {
		<-w.gate
	}
	directory := w.Directory(config.ID)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return "", err
	}
	return directory, signalfile.Ensure(directory)
}

func (w *fakeWorkspaces) Directory(staffID string) string {
	return filepath.Join(w.root, staffID)
}

type fakeSettings map[string]string

func (s fakeSettings) Get(ctx context.Context, key string) (string, error) {
	return s[key], nil
}

// memoryStates is a StateStore that calls onSave for every write.
type memoryStates struct {
	mu     sync.Mutex
	states map[string]staff.State
	saves  int
	onSave func(staffID string, state staff.State)

	// loadErr, when set, fails every LoadState.
	loadErr error
}

func newMemoryStates() *memoryStates {
	return &memoryStates{states: make(map[string]staff.State)}
}

func (m *memoryStates) LoadState(ctx context.Context, staffID string) (staff.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return staff.State{}, m.loadErr
	}
	return m.states[staffID], nil
}

func (m *memoryStates) SaveState(ctx context.Context, staffID string, state staff.State) error {
	m.mu.Lock()
	m.states[staffID] = state
	m.saves++
	onSave := m.onSave
	m.mu.Unlock()
	if onSave != nil {
		onSave(staffID, state)
	}
	return nil
}

func (m *memoryStates) States(ctx context.Context) (map[string]staff.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make(map[string]staff.State, len(m.states))
	for id, state := range m.states {
		states[id] = state
	}
	return states, nil
}

func (m *memoryStates) failLoads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

func (m *memoryStates) get(staffID string) staff.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[staffID]
}

type fakeChildren struct {
	busy atomic.Bool
}

func (c *fakeChildren) HasChildren(pid int) (bool, error) {
	return c.busy.Load(), nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) ofKind(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []events.Event
	for _, event := range r.events {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

func (r *recorder) statuses(staffID string) []staff.Status {
	var statuses []staff.Status
	for _, event := range r.ofKind(events.KindStatusChange) {
		if event.StaffID == staffID {
			statuses = append(statuses, event.Status.Status)
		}
	}
	return statuses
}

// fakeWatches stands in for signalfile.Watch. Tests deliver changes
// with trigger.
type fakeWatches struct {
	mu        sync.Mutex
	callbacks map[string]func(signalfile.Change)
	open      int
	fail      error
}

func (w *fakeWatches) watch(directory string, onChange func(signalfile.Change), logger *slog.Logger) (io.Closer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return nil, w.fail
	}
	w.callbacks[directory] = onChange
	w.open++
	return closerFunc(func() error {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.open--
		return nil
	}), nil
}

func (w *fakeWatches) trigger(directory string, file signalfile.File) {
	w.mu.Lock()
	callback := w.callbacks[directory]
	w.mu.Unlock()
	if callback != nil {
		callback(signalfile.Change{File: file, Path: file.Path(directory)})
	}
}

func (w *fakeWatches) openCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// pausingHandler blocks the goroutine logging message until release is
// closed, signalling reached when it gets there.
type pausingHandler struct {
	message string
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func newPausingHandler(message string) *pausingHandler {
	return &pausingHandler{message: message, reached: make(chan struct{}), release: make(chan struct{})}
}

func (h *pausingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *pausingHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Message == h.message {
		h.once.Do(func() { close(h.reached) })
		<-h.release
	}
	return nil
}

func (h *pausingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *pausingHandler) WithGroup(string) slog.Handler { return h }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type harness struct {
	t          *testing.T
	clock      *clock.FakeClock
	driver     *drivertest.Driver
	roster     *fakeRoster
	workspaces *fakeWorkspaces
	states     *memoryStates
	children   *fakeChildren
	events     *recorder
	watches    *fakeWatches
	logger     *slog.Logger
	supervisor *Supervisor
}

func newHarness(t *testing.T, ids ...string) *harness {
	t.Helper()
	h := &harness{
		t:          t,
		clock:      clock.Fake(epoch),
		driver:     drivertest.New(),
		roster:     &fakeRoster{configs: make(map[string]staff.Config)},
		workspaces: &fakeWorkspaces{root: t.TempDir()},
		states:     newMemoryStates(),
		children:   &fakeChildren{},
		events:     &recorder{},
		watches:    &fakeWatches{callbacks: make(map[string]func(signalfile.Change))},
	}
	for _, id := range ids {
		h.roster.configs[id] = staff.Config{
			ID:        id,
			Name:      id,
			AgentType: fakeAgent,
			Model:     "test-model",
			Skills:    []staff.Skill{{Name: "search", Environment: []string{"SEARCH_TOKEN"}}},
		}
	}
	h.supervisor = h.build()
	return h
}

// build returns a new Supervisor over the harness collaborators, as
// after a daemon restart.
func (h *harness) build() *Supervisor {
	registry := driver.NewRegistry()
	if err := registry.Register(fakeAgent, h.driver); err != nil {
		h.t.Fatalf("Register: %v", err)
	}
	return New(Config{
		Roster:     h.roster,
		Drivers:    registry,
		Workspaces: h.workspaces,
		States:     h.states,
		Children:   h.children,
		Events:     h.events,
		Settings: fakeSettings{
			"anthropic_api_key":         "sk-test",
			"skill.search.SEARCH_TOKEN": "search-secret",
		},
		Credentials: map[string]map[string]string{
			fakeAgent: {"ANTHROPIC_API_KEY": "anthropic_api_key"},
		},
		Watch:  h.watches.watch,
		Clock:  h.clock,
		Logger: h.logger,
	})
}

func (h *harness) start(staffID string) *drivertest.Process {
	h.t.Helper()
	if err := h.supervisor.Start(context.Background(), staffID); err != nil {
		h.t.Fatalf("Start(%s): %v", staffID, err)
	}
	process := h.driver.Last()
	if process == nil {
		h.t.Fatalf("Start(%s) created no process", staffID)
	}
	return process
}

var errTest = errors.New("test failure")
