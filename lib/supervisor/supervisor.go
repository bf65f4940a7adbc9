// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor owns the set of running staff workers. It starts,
// stops, pauses, and resumes them through their drivers, restarts
// crashed workers with backoff, nudges idle ones, watches the files
// they write, and publishes every lifecycle change as an event.
//
// The supervisor is the only writer of its worker map, failure history,
// and persisted worker state. All methods are safe for concurrent use.
// Process callbacks, timers, and file watchers carry the generation of
// the process lifetime that armed them; a callback whose generation is
// no longer current is discarded, so a late exit from an old process
// can never tear down its successor.
package supervisor

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/driver"
	"github.com/KoreanThinker/openstaff-sub000/lib/events"
	"github.com/KoreanThinker/openstaff-sub000/lib/signalfile"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

// Roster resolves worker definitions.
type Roster interface {
	Config(staffID string) (staff.Config, error)
}

// Drivers resolves an agent type to its driver.
type Drivers interface {
	Driver(agentType string) (driver.Driver, bool)
}

// Workspaces prepares the directory a worker runs in.
type Workspaces interface {
	Prepare(ctx context.Context, config staff.Config) (string, error)
	Directory(staffID string) string
}

// Settings resolves credentials and skill variables. A missing key
// returns "" and no error.
type Settings interface {
	Get(ctx context.Context, key string) (string, error)
}

// StateStore persists one staff.State per worker.
type StateStore interface {
	LoadState(ctx context.Context, staffID string) (staff.State, error)
	SaveState(ctx context.Context, staffID string, state staff.State) error
	States(ctx context.Context) (map[string]staff.State, error)
}

// ChildProber reports whether a process has children.
type ChildProber interface {
	HasChildren(pid int) (bool, error)
}

// Publisher receives supervisor events. Publish may be called with
// the supervisor's lock held: it must not block or call back into the
// Supervisor.
type Publisher interface {
	Publish(event events.Event)
}

// WatchFunc starts watching a workspace for signal file changes.
type WatchFunc func(directory string, onChange func(signalfile.Change), logger *slog.Logger) (io.Closer, error)

// Config wires a Supervisor to its collaborators.
type Config struct {
	Roster     Roster
	Drivers    Drivers
	Workspaces Workspaces
	States     StateStore
	Children   ChildProber
	Events     Publisher

	// Settings may be nil, in which case no credentials are resolved.
	Settings Settings

	// Credentials maps an agent type to the environment variables its
	// processes receive, each naming the settings key holding its
	// value.
	Credentials map[string]map[string]string

	Policy Policy

	// Watch defaults to signalfile.Watch.
	Watch WatchFunc

	Clock  clock.Clock
	Logger *slog.Logger
}

// Supervisor manages worker processes.
type Supervisor struct {
	roster      Roster
	drivers     Drivers
	workspaces  Workspaces
	settings    Settings
	states      StateStore
	children    ChildProber
	events      Publisher
	credentials map[string]map[string]string
	policy      Policy
	watch       WatchFunc
	clock       clock.Clock
	logger      *slog.Logger

	// persistMu orders state writes so that a stop's write is never
	// overtaken by a write from the process it stopped.
	persistMu sync.Mutex

	mu          sync.Mutex
	workers     map[string]*worker
	starting    map[string]bool
	stopping    map[string]bool
	paused      map[string]bool
	generations map[string]uint64
	failures    map[string][]time.Time
	crashes     map[string]*staff.CrashError

	// backoff holds workers waiting for an automatic restart, keyed to
	// the generation that crashed. restarts holds the pending timers.
	backoff  map[string]uint64
	restarts map[string]*clock.Timer

	// intentional holds the generation being stopped on purpose, so
	// that its exit is not treated as a crash.
	intentional map[string]uint64

	// giveups holds the key of the last giveup entry acted on.
	giveups map[string]string
}

// worker is one registered process lifetime.
type worker struct {
	id         string
	generation uint64
	config     staff.Config
	driver     driver.Driver
	process    driver.Process
	directory  string
	startedAt  time.Time
	resumed    bool

	// Guarded by Supervisor.mu.
	lastOutput  time.Time
	sessionID   string
	halting     bool
	idleTimer   *clock.Timer
	promptTimer *clock.Timer
	watcher     io.Closer
}

// New returns a Supervisor. It does not start or recover anything.
func New(config Config) *Supervisor {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	publisher := config.Events
	if publisher == nil {
		publisher = discard{}
	}
	watch := config.Watch
	if watch == nil {
		watch = func(directory string, onChange func(signalfile.Change), logger *slog.Logger) (io.Closer, error) {
			return signalfile.Watch(directory, onChange, logger)
		}
	}
	return &Supervisor{
		roster:      config.Roster,
		drivers:     config.Drivers,
		workspaces:  config.Workspaces,
		settings:    config.Settings,
		states:      config.States,
		children:    config.Children,
		events:      publisher,
		credentials: config.Credentials,
		policy:      config.Policy.withDefaults(),
		watch:       watch,
		clock:       clk,
		logger:      logger,
		workers:     make(map[string]*worker),
		starting:    make(map[string]bool),
		stopping:    make(map[string]bool),
		paused:      make(map[string]bool),
		generations: make(map[string]uint64),
		failures:    make(map[string][]time.Time),
		crashes:     make(map[string]*staff.CrashError),
		backoff:     make(map[string]uint64),
		restarts:    make(map[string]*clock.Timer),
		intentional: make(map[string]uint64),
		giveups:     make(map[string]string),
	}
}

type discard struct{}

func (discard) Publish(events.Event) {}

// IsRunning reports whether staffID has a registered process.
func (s *Supervisor) IsRunning(staffID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers[staffID] != nil
}

// Status returns the lifecycle status of staffID.
func (s *Supervisor) Status(staffID string) staff.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.starting[staffID]:
		return staff.StatusStarting
	case s.workers[staffID] != nil:
		return staff.StatusRunning
	case s.paused[staffID]:
		return staff.StatusPaused
	default:
		return staff.StatusStopped
	}
}

// ProcessID returns the pid of the running process of staffID.
func (s *Supervisor) ProcessID(staffID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.workers[staffID]
	if entry == nil {
		return 0, false
	}
	return entry.process.PID(), true
}

// LastOutput returns when staffID last produced output, or when it
// started if it has not.
func (s *Supervisor) LastOutput(staffID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.workers[staffID]
	if entry == nil {
		return time.Time{}, false
	}
	return entry.lastOutput, true
}

// Config returns the definition staffID was started with.
func (s *Supervisor) Config(staffID string) (staff.Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.workers[staffID]
	if entry == nil {
		return staff.Config{}, false
	}
	return entry.config, true
}

// Generation returns the current process generation of staffID.
func (s *Supervisor) Generation(staffID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[staffID]
}

// Running returns the ids of every running worker, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// FailureCount returns the crashes of staffID inside the failure
// window.
func (s *Supervisor) FailureCount(staffID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pruneLocked(staffID))
}

// LastCrash returns the most recent unexpected exit of staffID.
func (s *Supervisor) LastCrash(staffID string) (*staff.CrashError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	crash, ok := s.crashes[staffID]
	return crash, ok
}

// currentLocked returns the registered worker of staffID if its
// generation matches.
func (s *Supervisor) currentLocked(staffID string, generation uint64) *worker {
	entry := s.workers[staffID]
	if entry == nil || entry.generation != generation {
		return nil
	}
	return entry
}

func (s *Supervisor) pruneLocked(staffID string) []time.Time {
	cutoff := s.clock.Now().Add(-s.policy.FailureWindow)
	history := s.failures[staffID]
	kept := history[:0]
	for _, at := range history {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(s.failures, staffID)
		return nil
	}
	s.failures[staffID] = kept
	return kept
}

func (s *Supervisor) publish(event events.Event) {
	s.events.Publish(event)
}

func (s *Supervisor) publishStatus(staffID string, status staff.Status, reason string) {
	s.publish(events.Event{
		Kind:    events.KindStatusChange,
		StaffID: staffID,
		Status:  &events.StatusChange{Status: status, Reason: reason},
	})
}

// saveState writes state under persistMu.
func (s *Supervisor) saveState(ctx context.Context, staffID string, state staff.State) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.states.SaveState(ctx, staffID, state)
}

// releaseLocked stops the timers of entry and detaches its watcher,
// which the caller closes after releasing s.mu.
func (entry *worker) releaseLocked() io.Closer {
	entry.idleTimer.Stop()
	entry.promptTimer.Stop()
	entry.idleTimer = nil
	entry.promptTimer = nil
	watcher := entry.watcher
	entry.watcher = nil
	return watcher
}
