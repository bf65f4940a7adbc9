// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the few helpers that are allowed to use real
// wall-clock timeouts in tests. [RequireReceive] and [RequireClosed]
// bound channel waits; [Eventually] bounds polling for state reached by
// another goroutine (a filesystem watcher, a process exit). Everything
// else in the test suite drives time through clock.FakeClock.
//
// Helpers call t.Fatalf on failure.
package testutil
