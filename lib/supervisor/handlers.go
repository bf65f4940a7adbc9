// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/events"
	"github.com/KoreanThinker/openstaff-sub000/lib/signalfile"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

// handleExit processes the exit of generation. Exits caused by Stop or
// Pause, and exits of a generation that is no longer registered, are
// ignored. Anything else is a crash: it is recorded, and the worker is
// restarted after backoff unless it has crashed MaxFailures times
// within FailureWindow.
func (s *Supervisor) handleExit(staffID string, generation uint64, pid int, exitCode int) {
	s.mu.Lock()
	if marked, ok := s.intentional[staffID]; ok && marked == generation {
		delete(s.intentional, staffID)
		s.mu.Unlock()
		return
	}
	entry := s.currentLocked(staffID, generation)
	if entry == nil || entry.halting || entry.process.PID() != pid {
		s.mu.Unlock()
		s.logger.Debug("ignoring exit of a superseded process",
			"staff_id", staffID,
			"generation", generation,
			"pid", pid,
		)
		return
	}

	delete(s.workers, staffID)
	watcher := entry.releaseLocked()
	now := s.clock.Now()
	s.failures[staffID] = append(s.failures[staffID], now)
	count := len(s.pruneLocked(staffID))
	crash := &staff.CrashError{
		StaffID:    staffID,
		Generation: generation,
		PID:        pid,
		ExitCode:   exitCode,
		Time:       now,
	}
	s.crashes[staffID] = crash
	permanent := count >= s.policy.MaxFailures
	var delay time.Duration
	if !permanent {
		delay = s.policy.backoff(count)
		s.backoff[staffID] = generation
	}
	sessionID := entry.sessionID
	if current := entry.process.SessionID(); current != "" {
		sessionID = current
	}
	s.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
	entry.process.Dispose()

	s.logger.Warn("staff process exited unexpectedly",
		"staff_id", staffID,
		"pid", pid,
		"generation", generation,
		"exit_code", exitCode,
		"failures", count,
	)
	s.publish(events.Event{
		Kind:    events.KindProcessError,
		StaffID: staffID,
		Error: &events.ProcessError{
			Generation:   generation,
			PID:          pid,
			ExitCode:     exitCode,
			Message:      crash.Error(),
			FailureCount: count,
			RestartIn:    delay,
		},
	})

	if permanent {
		s.logger.Error("staff crashed too often, not restarting",
			"staff_id", staffID,
			"failures", count,
			"window", s.policy.FailureWindow,
		)
		s.publish(events.Event{
			Kind:          events.KindPermanentStop,
			StaffID:       staffID,
			PermanentStop: &events.PermanentStop{Failures: count, Window: s.policy.FailureWindow},
		})
		_, err := s.saveWhen(context.Background(), staffID, staff.State{SessionID: sessionID}, func() bool {
			return s.generations[staffID] == generation
		})
		if err != nil {
			s.logger.Error("persisting stopped state", "staff_id", staffID, "error", err)
		}
		s.publishStatus(staffID, staff.StatusStopped,
			fmt.Sprintf("%d crashes within %s", count, s.policy.FailureWindow))
		return
	}

	s.publishStatus(staffID, staff.StatusStopped, fmt.Sprintf("crashed, restarting in %s", delay))
	timer := s.clock.AfterFunc(delay, func() { s.restartAfterBackoff(staffID, generation) })
	s.mu.Lock()
	if crashed, waiting := s.backoff[staffID]; waiting && crashed == generation {
		s.restarts[staffID] = timer
	}
	s.mu.Unlock()
}

func (s *Supervisor) restartAfterBackoff(staffID string, generation uint64) {
	s.mu.Lock()
	if crashed, waiting := s.backoff[staffID]; !waiting || crashed != generation {
		s.mu.Unlock()
		return
	}
	delete(s.backoff, staffID)
	delete(s.restarts, staffID)
	s.mu.Unlock()

	s.logger.Info("restarting staff after backoff", "staff_id", staffID)
	err := s.Start(context.Background(), staffID)
	if err == nil {
		return
	}
	s.logger.Error("automatic restart failed", "staff_id", staffID, "error", err)
	message := "automatic restart failed: " + err.Error()
	s.publish(events.Event{
		Kind:    events.KindProcessError,
		StaffID: staffID,
		Error: &events.ProcessError{
			Generation:   generation,
			ExitCode:     -1,
			Message:      message,
			FailureCount: s.FailureCount(staffID),
		},
	})
	s.publishStatus(staffID, staff.StatusStopped, message)
}

// saveWhen writes state if condition, evaluated under s.mu, holds at
// the moment of writing.
func (s *Supervisor) saveWhen(ctx context.Context, staffID string, state staff.State, condition func() bool) (bool, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	ok := condition()
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, s.states.SaveState(ctx, staffID, state)
}

// handleData records output activity, captures a newly detected session
// id, and republishes the chunk.
func (s *Supervisor) handleData(staffID string, generation uint64, data string) {
	s.mu.Lock()
	entry := s.currentLocked(staffID, generation)
	if entry == nil {
		s.mu.Unlock()
		return
	}
	entry.lastOutput = s.clock.Now()
	sessionID := entry.process.SessionID()
	changed := sessionID != "" && sessionID != entry.sessionID && !entry.halting
	if changed {
		entry.sessionID = sessionID
	}
	startedAt := entry.startedAt
	s.mu.Unlock()

	s.publish(events.Event{
		Kind:    events.KindLogData,
		StaffID: staffID,
		Log:     &events.LogData{Generation: generation, Data: data},
	})

	if !changed {
		return
	}
	state := staff.State{SessionID: sessionID, LastStartedAt: startedAt}
	saved, err := s.saveWhen(context.Background(), staffID, state, func() bool {
		current := s.currentLocked(staffID, generation)
		return current != nil && !current.halting
	})
	if err != nil {
		s.logger.Error("persisting session id", "staff_id", staffID, "error", err)
		return
	}
	if saved {
		s.logger.Info("session id captured", "staff_id", staffID, "session_id", sessionID)
	}
}

// checkIdle nudges a worker that has been silent for IdleThreshold and
// has no child processes, then re-arms itself.
func (s *Supervisor) checkIdle(staffID string, generation uint64) {
	s.mu.Lock()
	entry := s.currentLocked(staffID, generation)
	if entry == nil || entry.halting {
		s.mu.Unlock()
		return
	}
	silence := s.clock.Now().Sub(entry.lastOutput)
	s.mu.Unlock()

	// Silence of exactly IdleThreshold counts as idle.
	if silence >= s.policy.IdleThreshold {
		s.nudge(entry, silence)
	}

	s.mu.Lock()
	if s.currentLocked(staffID, generation) == entry && !entry.halting {
		entry.idleTimer = s.clock.AfterFunc(s.policy.IdleCheckInterval, func() {
			s.checkIdle(staffID, generation)
		})
	}
	s.mu.Unlock()
}

func (s *Supervisor) nudge(entry *worker, silence time.Duration) {
	pid := entry.process.PID()
	if s.children != nil {
		busy, err := s.children.HasChildren(pid)
		if err != nil {
			s.logger.Warn("checking child processes", "staff_id", entry.id, "pid", pid, "error", err)
			return
		}
		if busy {
			s.logger.Debug("idle staff has child processes", "staff_id", entry.id, "pid", pid)
			return
		}
	}
	if err := entry.process.Write(s.policy.NudgeMessage); err != nil {
		s.logger.Warn("nudging idle staff", "staff_id", entry.id, "error", err)
		return
	}

	s.mu.Lock()
	if s.currentLocked(entry.id, entry.generation) == entry {
		entry.lastOutput = s.clock.Now()
	}
	s.mu.Unlock()

	s.logger.Info("nudged idle staff", "staff_id", entry.id, "silence", silence)
	s.publish(events.Event{
		Kind:    events.KindIdleNudge,
		StaffID: entry.id,
		Nudge:   &events.IdleNudge{Silence: silence},
	})
}

func (s *Supervisor) sendInitialPrompt(staffID string, generation uint64) {
	s.mu.Lock()
	entry := s.currentLocked(staffID, generation)
	if entry == nil || entry.halting {
		s.mu.Unlock()
		return
	}
	entry.promptTimer = nil
	s.mu.Unlock()

	if err := entry.process.Write(s.policy.InitialPrompt); err != nil {
		s.logger.Warn("sending initial prompt", "staff_id", staffID, "error", err)
	}
}

// handleFileChange runs on the workspace watcher's goroutine.
func (s *Supervisor) handleFileChange(staffID string, generation uint64, change signalfile.Change) {
	s.mu.Lock()
	entry := s.currentLocked(staffID, generation)
	if entry == nil || entry.halting {
		s.mu.Unlock()
		return
	}
	directory := entry.directory
	s.mu.Unlock()

	s.publish(events.Event{
		Kind:    events.KindFileChange,
		StaffID: staffID,
		File:    &events.FileChange{File: string(change.File), Path: change.Path},
	})

	switch change.File {
	case signalfile.Signals:
		s.checkGiveup(staffID, generation, change.Path)
	case signalfile.Cycles, signalfile.KPI:
		s.publishMetrics(staffID, directory)
	}
}

// checkGiveup pauses the worker when the latest signal is a giveup not
// acted on before.
func (s *Supervisor) checkGiveup(staffID string, generation uint64, path string) {
	latest, found, err := signalfile.Latest(path)
	if err != nil {
		s.logger.Warn("reading signals", "staff_id", staffID, "error", err)
		return
	}
	if !found || latest.Type != signalfile.TypeGiveup {
		return
	}

	key := latest.Key()
	s.mu.Lock()
	if s.giveups[staffID] == key || s.currentLocked(staffID, generation) == nil {
		s.mu.Unlock()
		return
	}
	s.giveups[staffID] = key
	s.mu.Unlock()

	s.logger.Warn("staff gave up, pausing", "staff_id", staffID, "reason", latest.Reason)
	// Pause closes the watcher this callback runs on.
	go func() {
		if err := s.Pause(context.Background(), staffID); err != nil {
			s.logger.Error("pausing staff after giveup", "staff_id", staffID, "error", err)
		}
		s.publish(events.Event{
			Kind:    events.KindGiveup,
			StaffID: staffID,
			Giveup:  &events.Giveup{Reason: latest.Reason},
		})
	}()
}

func (s *Supervisor) publishMetrics(staffID, directory string) {
	cycles, err := signalfile.Count(signalfile.Cycles.Path(directory))
	if err != nil {
		s.logger.Warn("counting cycles", "staff_id", staffID, "error", err)
		return
	}
	metrics := &events.MetricsTick{Cycles: cycles}
	kpi, found, err := signalfile.Latest(signalfile.KPI.Path(directory))
	if err != nil {
		s.logger.Warn("reading latest kpi", "staff_id", staffID, "error", err)
	} else if found {
		metrics.LatestKPI = kpi.Raw
	}
	s.publish(events.Event{
		Kind:    events.KindMetricsTick,
		StaffID: staffID,
		Metrics: metrics,
	})
}
