// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procutil

import (
	"os"
	"os/exec"
	"testing"
)

func TestIsAlive(t *testing.T) {
	t.Parallel()

	alive, err := IsAlive(os.Getpid())
	if err != nil {
		t.Fatalf("IsAlive(self): %v", err)
	}
	if !alive {
		t.Error("IsAlive(self) = false")
	}

	command := exec.Command("true")
	if err := command.Run(); err != nil {
		t.Skipf("cannot run true: %v", err)
	}
	// The reaped child's pid is free until the kernel reuses it.
	alive, err = IsAlive(command.Process.Pid)
	if err != nil {
		t.Fatalf("IsAlive(reaped): %v", err)
	}
	if alive {
		t.Error("IsAlive(reaped child) = true")
	}

	if _, err := IsAlive(0); err == nil {
		t.Error("IsAlive(0) succeeded")
	}
}

func TestHasChildren(t *testing.T) {
	t.Parallel()

	command := exec.Command("sleep", "30")
	if err := command.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	t.Cleanup(func() {
		command.Process.Kill()
		command.Wait()
	})

	busy, err := HasChildren(os.Getpid())
	if err != nil {
		t.Fatalf("HasChildren(self): %v", err)
	}
	if !busy {
		t.Error("HasChildren(self) = false with a running sleep child")
	}

	busy, err = HasChildren(command.Process.Pid)
	if err != nil {
		t.Fatalf("HasChildren(sleep): %v", err)
	}
	if busy {
		t.Error("HasChildren(sleep) = true")
	}
}

func TestParseParentPID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stat   string
		want   int
		wantOK bool
	}{
		{name: "plain", stat: "1234 (bash) S 1 1234 1234 0", want: 1, wantOK: true},
		{name: "spaces in name", stat: "99 (tmux: server) S 42 99 99 0", want: 42, wantOK: true},
		{name: "paren in name", stat: "7 (a) b) R 3 7 7", want: 3, wantOK: true},
		{name: "truncated", stat: "7 (x) R"},
		{name: "garbage", stat: "nothing here"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseParentPID(test.stat)
			if got != test.want || ok != test.wantOK {
				t.Errorf("parseParentPID(%q) = (%d, %v), want (%d, %v)", test.stat, got, ok, test.want, test.wantOK)
			}
		})
	}
}
