// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
	"github.com/KoreanThinker/openstaff-sub000/lib/testutil"
)

// stubbornProcess records signals and exits on the first signal listed
// in diesOn.
type stubbornProcess struct {
	*Handle

	mu      sync.Mutex
	signals []os.Signal
}

func newStubbornProcess(diesOn ...syscall.Signal) *stubbornProcess {
	process := &stubbornProcess{}
	process.Handle = NewHandle(HandleConfig{
		PID: 4242,
		Signal: func(sig os.Signal) error {
			process.mu.Lock()
			process.signals = append(process.signals, sig)
			process.mu.Unlock()
			for _, fatal := range diesOn {
				if sig == fatal {
					process.Exit(128 + int(fatal))
				}
			}
			return nil
		},
	})
	return process
}

func (process *stubbornProcess) received() []os.Signal {
	process.mu.Lock()
	defer process.mu.Unlock()
	return append([]os.Signal(nil), process.signals...)
}

func TestTerminateGraceful(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	process := newStubbornProcess(syscall.SIGTERM)

	if err := Terminate(context.Background(), fake, process, time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if signals := process.received(); len(signals) != 1 || signals[0] != syscall.SIGTERM {
		t.Errorf("signals = %v, want [SIGTERM]", signals)
	}
}

func TestTerminateEscalates(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	process := newStubbornProcess(syscall.SIGKILL)

	result := make(chan error, 1)
	go func() { result <- Terminate(context.Background(), fake, process, 5*time.Second) }()

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)

	if err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for Terminate"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	signals := process.received()
	if len(signals) != 2 || signals[0] != syscall.SIGTERM || signals[1] != syscall.SIGKILL {
		t.Errorf("signals = %v, want [SIGTERM SIGKILL]", signals)
	}
}

func TestTerminateReportsSurvivor(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	process := newStubbornProcess()

	result := make(chan error, 1)
	go func() { result <- Terminate(context.Background(), fake, process, time.Second) }()

	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	fake.WaitForTimers(1)
	fake.Advance(time.Second)

	err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for Terminate")
	if !errors.Is(err, staff.ErrKillFailed) {
		t.Errorf("Terminate error = %v, want ErrKillFailed", err)
	}
}

func TestTerminateAlreadyExited(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	process := newStubbornProcess()
	process.Exit(0)

	if err := Terminate(context.Background(), fake, process, time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if signals := process.received(); len(signals) != 0 {
		t.Errorf("signals = %v, want none", signals)
	}
}
