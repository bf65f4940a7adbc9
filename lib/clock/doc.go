// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock time so that timer-driven code
// (idle watchdogs, backoff restarts, health sweeps, kill escalation) can
// be driven deterministically in tests.
//
// Components hold a Clock field. Binaries pass Real(); tests pass a
// FakeClock and move time with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	supervisor := supervisor.New(supervisor.Config{Clock: fake, ...})
//	fake.Advance(time.Minute) // fires every timer due within the minute
//
// When a timer is registered from another goroutine, call WaitForTimers
// before Advance so the registration is not missed.
package clock
