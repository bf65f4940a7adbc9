// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package drivertest provides an in-memory driver.Driver for tests.
// Processes are driver.Handle values with no operating system process
// behind them: tests produce output with Feed and terminate them with
// Exit, and inspect what the code under test wrote, spawned, and
// killed.
package drivertest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/KoreanThinker/openstaff-sub000/lib/driver"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

// Driver is a scripted driver.Driver. The zero value is not usable;
// call New.
type Driver struct {
	mu        sync.Mutex
	installed bool
	spawnErr  error
	resumeErr error
	killErr   error
	stubborn  bool
	nextPID   int
	processes []*Process
	spawned   chan *Process
}

var _ driver.Driver = (*Driver)(nil)

// New returns an installed Driver whose processes exit on Kill.
func New() *Driver {
	return &Driver{
		installed: true,
		nextPID:   4000,
		spawned:   make(chan *Process, 64),
	}
}

// SetInstalled controls IsInstalled.
func (d *Driver) SetInstalled(installed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.installed = installed
}

// FailSpawn makes subsequent Spawn calls return err. Nil clears it.
func (d *Driver) FailSpawn(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spawnErr = err
}

// FailResume makes subsequent Resume calls return err. Nil clears it.
func (d *Driver) FailResume(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumeErr = err
}

// FailKill makes Kill leave the process running and return err.
func (d *Driver) FailKill(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killErr = err
	d.stubborn = err != nil
}

// Spawned delivers each process as it is created.
func (d *Driver) Spawned() <-chan *Process { return d.spawned }

// Processes returns every process created so far, oldest first.
func (d *Driver) Processes() []*Process {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Process(nil), d.processes...)
}

// Last returns the most recently created process, or nil.
func (d *Driver) Last() *Process {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.processes) == 0 {
		return nil
	}
	return d.processes[len(d.processes)-1]
}

func (d *Driver) IsInstalled(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installed
}

func (d *Driver) Install(ctx context.Context, progress func(percent int)) error {
	if progress != nil {
		progress(0)
		progress(100)
	}
	d.SetInstalled(true)
	return nil
}

func (d *Driver) Version(ctx context.Context) (string, bool) {
	if !d.IsInstalled(ctx) {
		return "", false
	}
	return "0.0.0-test", true
}

func (d *Driver) Spawn(ctx context.Context, options driver.SpawnOptions) (driver.Process, error) {
	d.mu.Lock()
	err := d.spawnErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.create(options, ""), nil
}

func (d *Driver) Resume(ctx context.Context, options driver.SpawnOptions, sessionID string) (driver.Process, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("resuming test session: %w", staff.ErrMissingSessionID)
	}
	d.mu.Lock()
	err := d.resumeErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.create(options, sessionID), nil
}

// Kill records a SIGTERM and, unless FailKill is set, exits the
// process with code 143.
func (d *Driver) Kill(ctx context.Context, process driver.Process) error {
	d.mu.Lock()
	killErr, stubborn := d.killErr, d.stubborn
	d.mu.Unlock()

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	if stubborn {
		return killErr
	}
	if fake, ok := process.(*Process); ok {
		fake.Exit(128 + int(syscall.SIGTERM))
	}
	return nil
}

func (d *Driver) create(options driver.SpawnOptions, sessionID string) *Process {
	d.mu.Lock()
	d.nextPID++
	process := &Process{
		Options:       options,
		ResumeSession: sessionID,
		input:         &recorder{},
	}
	process.Handle = driver.NewHandle(driver.HandleConfig{
		PID:       d.nextPID,
		Input:     process.input,
		Signal:    process.signal,
		SessionID: sessionID,
	})
	d.processes = append(d.processes, process)
	d.mu.Unlock()

	select {
	case d.spawned <- process:
	default:
	}
	return process
}

// Process is a fake agent process.
type Process struct {
	*driver.Handle

	// Options are the spawn options the process was created with.
	Options driver.SpawnOptions

	// ResumeSession is the session id passed to Resume, or "" for a
	// fresh spawn.
	ResumeSession string

	input *recorder

	mu      sync.Mutex
	signals []os.Signal
}

// Writes returns every text passed to Write, in order.
func (p *Process) Writes() []string { return p.input.texts() }

// Signals returns every signal delivered to the process.
func (p *Process) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

// Resumed reports whether the process was created by Resume.
func (p *Process) Resumed() bool { return p.ResumeSession != "" }

func (p *Process) signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	writes []string
}

func (r *recorder) Write(data []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, string(data))
	return len(data), nil
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}
