// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

// DefaultKillGrace is how long Terminate waits after each signal.
const DefaultKillGrace = 5 * time.Second

// Terminate stops process with SIGTERM, escalating to SIGKILL when the
// process has not exited after grace. Cancelling ctx skips the rest of
// the graceful wait. The returned error wraps staff.ErrKillFailed when
// the process is still alive after SIGKILL plus another grace period.
func Terminate(ctx context.Context, clk clock.Clock, process Process, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	select {
	case <-process.Done():
		return nil
	default:
	}

	var signalErrors []error
	if err := process.Signal(syscall.SIGTERM); err != nil && !processGone(err) {
		signalErrors = append(signalErrors, fmt.Errorf("sending SIGTERM: %w", err))
	}
	select {
	case <-process.Done():
		return nil
	case <-clk.After(grace):
	case <-ctx.Done():
	}

	if err := process.Signal(syscall.SIGKILL); err != nil && !processGone(err) {
		signalErrors = append(signalErrors, fmt.Errorf("sending SIGKILL: %w", err))
	}
	select {
	case <-process.Done():
		return nil
	case <-clk.After(grace):
	}

	return fmt.Errorf("terminating process %d: %w", process.PID(),
		errors.Join(append([]error{staff.ErrKillFailed}, signalErrors...)...))
}

func processGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}
