// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"testing"
)

type nullDriver struct{}

func (nullDriver) IsInstalled(context.Context) bool { return true }
func (nullDriver) Install(context.Context, func(int)) error { return nil }
func (nullDriver) Version(context.Context) (string, bool) { return "", false }
func (nullDriver) Spawn(context.Context, SpawnOptions) (Process, error) { return nil, nil }
func (nullDriver) Resume(context.Context, SpawnOptions, string) (Process, error) {
	return nil, nil
}
func (nullDriver) Kill(context.Context, Process) error { return nil }

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if err := registry.Register("codex", nullDriver{}); err != nil {
		t.Fatalf("Register(codex): %v", err)
	}
	if err := registry.Register("claude-code", nullDriver{}); err != nil {
		t.Fatalf("Register(claude-code): %v", err)
	}
	if err := registry.Register("codex", nullDriver{}); err == nil {
		t.Error("duplicate Register succeeded")
	}
	if err := registry.Register("", nullDriver{}); err == nil {
		t.Error("Register with empty agent type succeeded")
	}

	if _, ok := registry.Driver("claude-code"); !ok {
		t.Error("Driver(claude-code) not found")
	}
	if _, ok := registry.Driver("gemini"); ok {
		t.Error("Driver(gemini) found")
	}

	agentTypes := registry.AgentTypes()
	if len(agentTypes) != 2 || agentTypes[0] != "claude-code" || agentTypes[1] != "codex" {
		t.Errorf("AgentTypes() = %v, want [claude-code codex]", agentTypes)
	}
}
