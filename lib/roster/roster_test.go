// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

const researcher = `{
	// Daily market research.
	"name": "Researcher",
	"agent_type": "claude-code",
	"model": "sonnet",
	"gather": "Read the news feeds.",
	"execute": "Write a summary.",
	"evaluate": "Check the summary against the KPI.",
	"skills": [
		{"name": "web-search", "environment": ["SEARCH_API_KEY"]},
	],
}`

func TestRosterConfig(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	os.WriteFile(filepath.Join(directory, "researcher.jsonc"), []byte(researcher), 0644)

	roster := New(directory)
	config, err := roster.Config("researcher")
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if config.ID != "researcher" {
		t.Errorf("ID = %q, want researcher", config.ID)
	}
	if config.AgentType != "claude-code" || config.Model != "sonnet" {
		t.Errorf("AgentType/Model = %q/%q", config.AgentType, config.Model)
	}
	if len(config.Skills) != 1 || config.Skills[0].Environment[0] != "SEARCH_API_KEY" {
		t.Errorf("Skills = %+v", config.Skills)
	}
}

func TestRosterNotFound(t *testing.T) {
	t.Parallel()

	roster := New(t.TempDir())
	for _, id := range []string{"missing", "../etc/passwd", ""} {
		if _, err := roster.Config(id); !errors.Is(err, staff.ErrNotFound) {
			t.Errorf("Config(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestRosterRejectsMismatchedID(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	os.WriteFile(filepath.Join(directory, "a.json"), []byte(`{"id":"b","agent_type":"codex"}`), 0644)

	if _, err := New(directory).Config("a"); err == nil {
		t.Fatal("Config accepted a definition whose id differs from its file name")
	}
}

func TestRosterIDs(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	for _, name := range []string{"zeta.jsonc", "alpha.json", "alpha.jsonc", "notes.md", ".hidden.jsonc"} {
		os.WriteFile(filepath.Join(directory, name), []byte(`{"agent_type":"codex"}`), 0644)
	}
	os.Mkdir(filepath.Join(directory, "subdir.jsonc"), 0755)

	ids, err := New(directory).IDs()
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "zeta" {
		t.Errorf("IDs = %v, want [alpha zeta]", ids)
	}

	missing, err := New(filepath.Join(directory, "nope")).IDs()
	if err != nil || missing != nil {
		t.Errorf("IDs(missing dir) = (%v, %v)", missing, err)
	}
}
