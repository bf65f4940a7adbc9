// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package procutil answers two questions about operating system
// processes: does a process still exist, and does it currently have
// child processes. The supervisor uses the second to avoid nudging a
// worker that is quietly busy in a subprocess (a build, a test run).
package procutil

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const procRoot = "/proc"

// System implements the supervisor's and health monitor's process
// probes against the running kernel.
type System struct{}

// IsAlive reports whether pid exists.
func (System) IsAlive(pid int) (bool, error) { return IsAlive(pid) }

// HasChildren reports whether pid has at least one child process.
func (System) HasChildren(pid int) (bool, error) { return HasChildren(pid) }

// IsAlive sends signal 0 to pid. A permission error still proves the
// process exists.
func IsAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid pid %d", pid)
	}
	err := unix.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return false, fmt.Errorf("probing pid %d: %w", pid, err)
	}
}

// HasChildren reports whether pid has child processes. It reads the
// per-thread children lists procfs exposes, falls back to scanning
// every process's parent id when those lists are unavailable, and
// falls back to pgrep when procfs itself is missing.
func HasChildren(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid pid %d", pid)
	}
	if _, err := os.Stat(procRoot); err != nil {
		return pgrepChildren(pid)
	}
	found, supported, err := threadChildren(pid)
	if err != nil {
		return false, err
	}
	if supported {
		return found, nil
	}
	return scanParents(pid)
}

// threadChildren reads /proc/<pid>/task/*/children. supported is false
// when the kernel does not provide those files.
func threadChildren(pid int) (found, supported bool, err error) {
	paths, err := filepath.Glob(filepath.Join(procRoot, strconv.Itoa(pid), "task", "*", "children"))
	if err != nil {
		return false, false, fmt.Errorf("listing threads of %d: %w", pid, err)
	}
	if len(paths) == 0 {
		return false, false, nil
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Thread exited between glob and read.
				continue
			}
			return false, true, fmt.Errorf("reading %s: %w", path, err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			return true, true, nil
		}
	}
	return false, true, nil
}

// scanParents walks every /proc/<n>/stat looking for a parent id equal
// to pid.
func scanParents(pid int) (bool, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", procRoot, err)
	}
	for _, entry := range entries {
		if _, err := strconv.Atoi(entry.Name()); err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(procRoot, entry.Name(), "stat"))
		if err != nil {
			continue
		}
		parent, ok := parseParentPID(string(data))
		if ok && parent == pid {
			return true, nil
		}
	}
	return false, nil
}

// parseParentPID extracts the fourth field of /proc/<n>/stat. The
// command name (field two) is parenthesized and may contain spaces, so
// parsing starts after its closing parenthesis.
func parseParentPID(stat string) (int, bool) {
	closing := strings.LastIndexByte(stat, ')')
	if closing < 0 {
		return 0, false
	}
	fields := strings.Fields(stat[closing+1:])
	if len(fields) < 2 {
		return 0, false
	}
	parent, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return parent, true
}

// pgrepChildren asks pgrep, which exits 1 when nothing matches.
func pgrepChildren(pid int) (bool, error) {
	output, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) && exitError.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("running pgrep -P %d: %w", pid, err)
	}
	return len(bytes.TrimSpace(output)) > 0, nil
}
