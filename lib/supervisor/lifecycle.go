// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/driver"
	"github.com/KoreanThinker/openstaff-sub000/lib/signalfile"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

// Start launches staffID. It is a no-op when the worker is already
// running, starting, or being stopped. A persisted session id is
// resumed when the driver can, otherwise a fresh session is spawned and
// sent the initial prompt after InitialPromptDelay.
//
// Errors wrap staff.ErrNotFound, staff.ErrDriverUnavailable, or
// staff.ErrNotInstalled when those are the cause. On error nothing is
// left running.
func (s *Supervisor) Start(ctx context.Context, staffID string) error {
	s.mu.Lock()
	if s.workers[staffID] != nil || s.starting[staffID] || s.stopping[staffID] {
		s.mu.Unlock()
		return nil
	}
	s.starting[staffID] = true
	delete(s.paused, staffID)
	s.cancelBackoffLocked(staffID)
	s.generations[staffID]++
	generation := s.generations[staffID]
	s.mu.Unlock()

	entry, err := s.launch(ctx, staffID, generation)

	s.mu.Lock()
	delete(s.starting, staffID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.workers[staffID] = entry
	entry.idleTimer = s.clock.AfterFunc(s.policy.IdleCheckInterval, func() {
		s.checkIdle(staffID, generation)
	})
	// Published under s.mu: a concurrent halt's status follows it.
	s.publishStatus(staffID, staff.StatusRunning, "")
	s.mu.Unlock()

	pid := entry.process.PID()
	s.logger.Info("staff started",
		"staff_id", staffID,
		"pid", pid,
		"generation", generation,
		"resumed", entry.resumed,
		"session_id", entry.sessionID,
	)

	// Output and exits that happened before these registrations are
	// replayed by the process handle.
	entry.process.OnData(func(data string) { s.handleData(staffID, generation, data) })
	entry.process.OnExit(func(exitCode int) { s.handleExit(staffID, generation, pid, exitCode) })

	if !entry.resumed {
		timer := s.clock.AfterFunc(s.policy.InitialPromptDelay, func() {
			s.sendInitialPrompt(staffID, generation)
		})
		s.mu.Lock()
		if s.currentLocked(staffID, generation) == entry && !entry.halting {
			entry.promptTimer = timer
		} else {
			timer.Stop()
		}
		s.mu.Unlock()
	}
	return nil
}

// launch performs the start sequence up to, but not including,
// registration. Anything it created is released on error.
func (s *Supervisor) launch(ctx context.Context, staffID string, generation uint64) (*worker, error) {
	config, err := s.roster.Config(staffID)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", staffID, err)
	}
	agent, ok := s.drivers.Driver(config.AgentType)
	if !ok {
		return nil, fmt.Errorf("starting %s: agent type %q: %w", staffID, config.AgentType, staff.ErrDriverUnavailable)
	}
	if !agent.IsInstalled(ctx) {
		return nil, fmt.Errorf("starting %s: agent type %q: %w", staffID, config.AgentType, staff.ErrNotInstalled)
	}

	directory, err := s.workspaces.Prepare(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("preparing workspace of %s: %w", staffID, err)
	}
	environment, err := s.environment(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("resolving environment of %s: %w", staffID, err)
	}
	state, err := s.states.LoadState(ctx, staffID)
	if err != nil {
		return nil, fmt.Errorf("loading state of %s: %w", staffID, err)
	}

	options := driver.SpawnOptions{
		WorkingDirectory: directory,
		ExtraEnv:         environment,
		Model:            config.Model,
	}
	process, resumed, err := s.spawn(ctx, staffID, agent, options, state.SessionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entry := &worker{
		id:         staffID,
		generation: generation,
		config:     config,
		driver:     agent,
		process:    process,
		directory:  directory,
		startedAt:  now,
		resumed:    resumed,
		lastOutput: now,
		sessionID:  process.SessionID(),
	}

	watcher, err := s.watch(directory, func(change signalfile.Change) {
		s.handleFileChange(staffID, generation, change)
	}, s.logger.With("staff_id", staffID))
	if err != nil {
		s.abandon(ctx, entry)
		return nil, fmt.Errorf("watching workspace of %s: %w", staffID, err)
	}
	entry.watcher = watcher

	err = s.saveState(ctx, staffID, staff.State{SessionID: entry.sessionID, LastStartedAt: now})
	if err != nil {
		watcher.Close()
		s.abandon(ctx, entry)
		return nil, fmt.Errorf("persisting state of %s: %w", staffID, err)
	}
	return entry, nil
}

// spawn resumes sessionID when set, falling back to a fresh session
// when the resume fails.
func (s *Supervisor) spawn(ctx context.Context, staffID string, agent driver.Driver, options driver.SpawnOptions, sessionID string) (driver.Process, bool, error) {
	if sessionID != "" {
		process, err := agent.Resume(ctx, options, sessionID)
		if err == nil {
			return process, true, nil
		}
		s.logger.Warn("resume failed, spawning a fresh session",
			"staff_id", staffID,
			"session_id", sessionID,
			"error", err,
		)
	}
	process, err := agent.Spawn(ctx, options)
	if err != nil {
		return nil, false, fmt.Errorf("spawning %s: %w", staffID, err)
	}
	return process, false, nil
}

// abandon kills a process that was never registered.
func (s *Supervisor) abandon(ctx context.Context, entry *worker) {
	if err := entry.driver.Kill(ctx, entry.process); err != nil {
		s.logger.Error("killing abandoned process", "staff_id", entry.id, "pid", entry.process.PID(), "error", err)
	}
	entry.process.Dispose()
}

// environment resolves the agent credentials and skill variables of
// config into KEY=VALUE pairs. Unset settings are omitted.
func (s *Supervisor) environment(ctx context.Context, config staff.Config) ([]string, error) {
	environment := []string{"STAFF_ID=" + config.ID}
	if s.settings == nil {
		return environment, nil
	}

	credentials := s.credentials[config.AgentType]
	for _, variable := range slices.Sorted(maps.Keys(credentials)) {
		value, err := s.settings.Get(ctx, credentials[variable])
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", credentials[variable], err)
		}
		if value != "" {
			environment = append(environment, variable+"="+value)
		}
	}
	for _, skill := range config.Skills {
		for _, variable := range skill.Environment {
			key := "skill." + skill.Name + "." + variable
			value, err := s.settings.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", key, err)
			}
			if value != "" {
				environment = append(environment, variable+"="+value)
			}
		}
	}
	return environment, nil
}

// Stop kills the process of staffID and persists it as stopped, so it
// is not recovered. A worker waiting for an automatic restart has the
// restart cancelled. Stop is a no-op for a worker that is neither.
func (s *Supervisor) Stop(ctx context.Context, staffID string) error {
	return s.halt(ctx, staffID, haltStop)
}

// Pause is Stop, except the worker is persisted and reported as paused.
func (s *Supervisor) Pause(ctx context.Context, staffID string) error {
	return s.halt(ctx, staffID, haltPause)
}

type haltMode int

const (
	haltStop haltMode = iota
	haltPause

	// haltShutdown kills the process but leaves the persisted state
	// alone, so the worker is recovered by the next supervisor.
	haltShutdown
)

func (mode haltMode) status() staff.Status {
	if mode == haltPause {
		return staff.StatusPaused
	}
	return staff.StatusStopped
}

func (s *Supervisor) halt(ctx context.Context, staffID string, mode haltMode) error {
	status := mode.status()

	s.mu.Lock()
	entry := s.workers[staffID]
	if entry == nil || s.stopping[staffID] {
		_, waiting := s.backoff[staffID]
		if entry != nil || !waiting {
			s.mu.Unlock()
			return nil
		}
		s.cancelBackoffLocked(staffID)
		if mode == haltShutdown {
			s.mu.Unlock()
			return nil
		}
		delete(s.failures, staffID)
		if mode == haltPause {
			s.paused[staffID] = true
		}
		s.mu.Unlock()
		return s.haltWaiting(ctx, staffID, status)
	}
	s.stopping[staffID] = true
	s.intentional[staffID] = entry.generation
	entry.halting = true
	sessionID := entry.sessionID
	if current := entry.process.SessionID(); current != "" {
		sessionID = current
	}
	s.mu.Unlock()

	// The state is written before the kill: if the process dies while
	// being killed, nothing may read a state that still says running.
	var errs []error
	if mode != haltShutdown {
		state := staff.State{SessionID: sessionID, Paused: mode == haltPause}
		if mode == haltPause {
			state.LastStartedAt = entry.startedAt
		}
		if err := s.saveState(ctx, staffID, state); err != nil {
			errs = append(errs, fmt.Errorf("persisting state of %s: %w", staffID, err))
		}
	}

	s.mu.Lock()
	watcher := entry.releaseLocked()
	s.mu.Unlock()
	if watcher != nil {
		watcher.Close()
	}

	if err := entry.driver.Kill(ctx, entry.process); err != nil {
		s.logger.Error("killing staff process",
			"staff_id", staffID,
			"pid", entry.process.PID(),
			"error", err,
		)
	}
	entry.process.Dispose()

	s.mu.Lock()
	if s.workers[staffID] == entry {
		delete(s.workers, staffID)
	}
	if s.intentional[staffID] == entry.generation {
		delete(s.intentional, staffID)
	}
	delete(s.stopping, staffID)
	delete(s.failures, staffID)
	if mode == haltPause {
		s.paused[staffID] = true
	}
	s.mu.Unlock()

	s.logger.Info("staff halted", "staff_id", staffID, "status", status, "generation", entry.generation)
	reason := ""
	if mode == haltShutdown {
		reason = "supervisor shutdown"
	}
	s.publishStatus(staffID, status, reason)
	return errors.Join(errs...)
}

// haltWaiting persists the halt of a worker whose automatic restart
// was just cancelled.
func (s *Supervisor) haltWaiting(ctx context.Context, staffID string, status staff.Status) error {
	state, err := s.states.LoadState(ctx, staffID)
	if err != nil {
		return fmt.Errorf("loading state of %s: %w", staffID, err)
	}
	state.Paused = status == staff.StatusPaused
	if !state.Paused {
		state.LastStartedAt = time.Time{}
	}
	if err := s.saveState(ctx, staffID, state); err != nil {
		return fmt.Errorf("persisting state of %s: %w", staffID, err)
	}
	s.logger.Info("pending restart cancelled", "staff_id", staffID, "status", status)
	s.publishStatus(staffID, status, "restart cancelled")
	return nil
}

// cancelBackoffLocked drops a pending automatic restart.
func (s *Supervisor) cancelBackoffLocked(staffID string) {
	if timer, ok := s.restarts[staffID]; ok {
		timer.Stop()
	}
	delete(s.restarts, staffID)
	delete(s.backoff, staffID)
}

// Resume clears the paused flag of staffID, neutralizes a giveup
// signal that would otherwise pause it again, and starts it.
func (s *Supervisor) Resume(ctx context.Context, staffID string) error {
	signals := signalfile.Signals.Path(s.workspaces.Directory(staffID))
	cleared, err := signalfile.ClearGiveup(signals, s.clock.Now())
	if err != nil {
		return fmt.Errorf("clearing giveup of %s: %w", staffID, err)
	}
	if cleared {
		s.logger.Info("giveup signal cleared", "staff_id", staffID)
	}

	state, err := s.states.LoadState(ctx, staffID)
	if err != nil {
		return fmt.Errorf("loading state of %s: %w", staffID, err)
	}
	if state.Paused {
		state.Paused = false
		if err := s.saveState(ctx, staffID, state); err != nil {
			return fmt.Errorf("persisting state of %s: %w", staffID, err)
		}
	}

	s.mu.Lock()
	delete(s.paused, staffID)
	s.mu.Unlock()
	return s.Start(ctx, staffID)
}

// Restart stops staffID and starts it again.
func (s *Supervisor) Restart(ctx context.Context, staffID string) error {
	if err := s.Stop(ctx, staffID); err != nil {
		return err
	}
	return s.Start(ctx, staffID)
}

// StopAll stops every running worker concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	return s.haltAll(ctx, haltStop)
}

// Shutdown kills every running worker concurrently and cancels pending
// restarts without touching persisted state, so that
// RecoverRunningStaffs brings the same workers back.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for staffID := range s.backoff {
		s.cancelBackoffLocked(staffID)
	}
	s.mu.Unlock()
	return s.haltAll(ctx, haltShutdown)
}

func (s *Supervisor) haltAll(ctx context.Context, mode haltMode) error {
	ids := s.Running()
	errs := make([]error, len(ids))
	var group sync.WaitGroup
	for index, id := range ids {
		group.Go(func() {
			errs[index] = s.halt(ctx, id, mode)
		})
	}
	group.Wait()
	return errors.Join(errs...)
}

// RecoverRunningStaffs restores the workers that were running when the
// previous supervisor exited. Paused workers are marked paused and left
// alone. A worker that fails to start is logged and skipped. The error
// reports only a failure to read persisted state.
func (s *Supervisor) RecoverRunningStaffs(ctx context.Context) error {
	states, err := s.states.States(ctx)
	if err != nil {
		return fmt.Errorf("loading staff states: %w", err)
	}

	recovered := 0
	for _, staffID := range slices.Sorted(maps.Keys(states)) {
		state := states[staffID]
		if state.Paused {
			s.mu.Lock()
			s.paused[staffID] = true
			s.mu.Unlock()
			continue
		}
		if !state.WantsRecovery() {
			continue
		}
		if err := s.Start(ctx, staffID); err != nil {
			s.logger.Error("recovering staff", "staff_id", staffID, "error", err)
			continue
		}
		recovered++
	}
	s.logger.Info("recovery complete", "recovered", recovered, "known", len(states))
	return nil
}
