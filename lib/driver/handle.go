// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// maxBacklog bounds the output retained for replay to the first OnData
// callback.
const maxBacklog = 256 * 1024

// maxLine bounds the partial line kept for session id detection.
const maxLine = 64 * 1024

// HandleConfig wires a Handle to a concrete process.
type HandleConfig struct {
	// PID is the process id.
	PID int

	// Input receives text passed to Write. Nil makes Write fail.
	Input io.Writer

	// Submit is appended to every Write ("\r" for a terminal, "\n" for
	// a pipe).
	Submit string

	// Signal delivers a signal to the process group. Nil makes Signal
	// fail.
	Signal func(sig os.Signal) error

	// Close releases the process's terminal or pipes. Called once, by
	// Dispose.
	Close func() error

	// SessionID seeds the session slot, for example with the id passed
	// on a resume command line.
	SessionID string
}

// Handle is a Process implementation shared by drivers. The driver
// feeds output through Feed (or Pump) and reports termination through
// Exit; Handle takes care of callback fan-out, the pre-registration
// backlog, session id capture, and late exit registration.
type Handle struct {
	config HandleConfig

	mu              sync.Mutex
	sessionID       string
	sessionCaptured bool
	partialLine     strings.Builder
	skippingLine    bool
	backlog         []string
	backlogSize     int
	dataCallbacks   []func(string)
	exitCallbacks   []func(int)
	exited          bool
	exitCode        int
	disposed        bool
	done            chan struct{}
}

// NewHandle returns a Handle for a started process.
func NewHandle(config HandleConfig) *Handle {
	return &Handle{
		config:    config,
		sessionID: config.SessionID,
		done:      make(chan struct{}),
	}
}

// PID returns the process id.
func (handle *Handle) PID() int { return handle.config.PID }

// SessionID returns the current session identifier.
func (handle *Handle) SessionID() string {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	return handle.sessionID
}

// SetSessionID overrides the session identifier slot.
func (handle *Handle) SetSessionID(id string) {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	handle.sessionID = id
}

// Write submits text followed by the configured submit sequence.
func (handle *Handle) Write(text string) error {
	handle.mu.Lock()
	disposed := handle.disposed
	handle.mu.Unlock()
	if disposed {
		return fmt.Errorf("writing to process %d: handle disposed", handle.config.PID)
	}
	if handle.config.Input == nil {
		return fmt.Errorf("writing to process %d: no input attached", handle.config.PID)
	}
	if _, err := io.WriteString(handle.config.Input, text+handle.config.Submit); err != nil {
		return fmt.Errorf("writing to process %d: %w", handle.config.PID, err)
	}
	return nil
}

// OnData registers a data callback. The first registration receives
// any output produced before it.
func (handle *Handle) OnData(callback func(data string)) {
	handle.mu.Lock()
	if handle.disposed {
		handle.mu.Unlock()
		return
	}
	handle.dataCallbacks = append(handle.dataCallbacks, callback)
	backlog := handle.backlog
	handle.backlog = nil
	handle.backlogSize = 0
	handle.mu.Unlock()

	for _, chunk := range backlog {
		callback(chunk)
	}
}

// OnExit registers an exit callback. If the process already exited the
// callback runs before OnExit returns.
func (handle *Handle) OnExit(callback func(exitCode int)) {
	handle.mu.Lock()
	if handle.disposed {
		handle.mu.Unlock()
		return
	}
	if handle.exited {
		exitCode := handle.exitCode
		handle.mu.Unlock()
		callback(exitCode)
		return
	}
	handle.exitCallbacks = append(handle.exitCallbacks, callback)
	handle.mu.Unlock()
}

// Signal delivers sig through the configured signal function.
func (handle *Handle) Signal(sig os.Signal) error {
	if handle.config.Signal == nil {
		return fmt.Errorf("signalling process %d: no signal function", handle.config.PID)
	}
	return handle.config.Signal(sig)
}

// Done is closed by Exit.
func (handle *Handle) Done() <-chan struct{} { return handle.done }

// Dispose drops callbacks and closes the process's terminal. Safe to
// call more than once.
func (handle *Handle) Dispose() {
	handle.mu.Lock()
	if handle.disposed {
		handle.mu.Unlock()
		return
	}
	handle.disposed = true
	handle.dataCallbacks = nil
	handle.exitCallbacks = nil
	handle.backlog = nil
	handle.mu.Unlock()

	if handle.config.Close != nil {
		handle.config.Close()
	}
}

// Feed delivers one chunk of output. Complete lines are scanned for a
// session identifier until one is captured; the capture happens before
// callbacks run, so a callback observing the chunk also observes the
// new SessionID.
func (handle *Handle) Feed(data string) {
	if data == "" {
		return
	}
	handle.mu.Lock()
	if handle.disposed {
		handle.mu.Unlock()
		return
	}
	if !handle.sessionCaptured {
		handle.scanLocked(data)
	}
	callbacks := handle.dataCallbacks
	if len(callbacks) == 0 {
		handle.appendBacklogLocked(data)
	}
	handle.mu.Unlock()

	for _, callback := range callbacks {
		callback(data)
	}
}

// Pump feeds everything read from reader until it returns an error.
// A read error caused by the terminal closing on exit is not reported.
func (handle *Handle) Pump(reader io.Reader) error {
	buffer := make([]byte, 32*1024)
	for {
		count, err := reader.Read(buffer)
		if count > 0 {
			handle.Feed(string(buffer[:count]))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || isTerminalHangup(err) {
				return nil
			}
			return fmt.Errorf("reading output of process %d: %w", handle.config.PID, err)
		}
	}
}

// Exit records termination, closes Done, and runs exit callbacks.
// Only the first call has an effect.
func (handle *Handle) Exit(exitCode int) {
	handle.mu.Lock()
	if handle.exited {
		handle.mu.Unlock()
		return
	}
	if !handle.sessionCaptured && handle.partialLine.Len() > 0 {
		handle.detectLocked(handle.partialLine.String())
		handle.partialLine.Reset()
	}
	handle.exited = true
	handle.exitCode = exitCode
	callbacks := handle.exitCallbacks
	handle.exitCallbacks = nil
	close(handle.done)
	handle.mu.Unlock()

	for _, callback := range callbacks {
		callback(exitCode)
	}
}

// scanLocked checks each completed line of output for a session id. A
// line longer than maxLine is skipped entirely, up to its newline.
func (handle *Handle) scanLocked(data string) {
	for {
		newline := strings.IndexByte(data, '\n')
		if handle.skippingLine {
			if newline < 0 {
				return
			}
			handle.skippingLine = false
			data = data[newline+1:]
			continue
		}
		if newline < 0 {
			if handle.partialLine.Len()+len(data) <= maxLine {
				handle.partialLine.WriteString(data)
			} else {
				handle.partialLine.Reset()
				handle.skippingLine = true
			}
			return
		}
		if handle.partialLine.Len()+newline > maxLine {
			handle.partialLine.Reset()
			data = data[newline+1:]
			continue
		}
		handle.partialLine.WriteString(data[:newline])
		line := handle.partialLine.String()
		handle.partialLine.Reset()
		data = data[newline+1:]
		if handle.detectLocked(line) {
			return
		}
	}
}

func (handle *Handle) detectLocked(line string) bool {
	id, found := DetectSessionID(strings.TrimRight(line, "\r"))
	if !found {
		return false
	}
	handle.sessionID = id
	handle.sessionCaptured = true
	handle.partialLine.Reset()
	return true
}

func (handle *Handle) appendBacklogLocked(data string) {
	for handle.backlogSize+len(data) > maxBacklog && len(handle.backlog) > 0 {
		handle.backlogSize -= len(handle.backlog[0])
		handle.backlog = handle.backlog[1:]
	}
	if len(data) > maxBacklog {
		data = data[len(data)-maxBacklog:]
	}
	handle.backlog = append(handle.backlog, data)
	handle.backlogSize += len(data)
}
