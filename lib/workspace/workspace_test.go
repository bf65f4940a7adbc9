// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/signalfile"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

func newTestWorkspaces(t *testing.T) (*Workspaces, string) {
	t.Helper()
	base := t.TempDir()
	skills := filepath.Join(base, "skills")
	os.MkdirAll(filepath.Join(skills, "web-search", "scripts"), 0755)
	os.WriteFile(filepath.Join(skills, "web-search", "SKILL.md"), []byte("# Web search\n"), 0644)
	os.WriteFile(filepath.Join(skills, "web-search", "scripts", "search.sh"), []byte("#!/bin/sh\n"), 0755)
	return New(Config{Root: filepath.Join(base, "workspaces"), SkillsRoot: skills}), skills
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	workspaces, _ := newTestWorkspaces(t)
	config := staff.Config{
		ID:        "researcher",
		Name:      "Researcher",
		AgentType: "claude-code",
		Gather:    "Read feeds.",
		Execute:   "Summarize.",
		Evaluate:  "Score the summary.",
		KPI:       "Summaries per day",
		Skills:    []staff.Skill{{Name: "web-search"}},
	}

	directory, err := workspaces.Prepare(context.Background(), config)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if directory != workspaces.Directory("researcher") {
		t.Errorf("directory = %q, want %q", directory, workspaces.Directory("researcher"))
	}

	instructions, err := os.ReadFile(filepath.Join(directory, "CLAUDE.md"))
	if err != nil {
		t.Fatalf("reading CLAUDE.md: %v", err)
	}
	for _, fragment := range []string{"# Researcher", "Read feeds.", "Summarize.", "Summaries per day", "signals.jsonl"} {
		if !strings.Contains(string(instructions), fragment) {
			t.Errorf("instructions missing %q", fragment)
		}
	}
	for _, file := range signalfile.Files {
		if _, err := os.Stat(file.Path(directory)); err != nil {
			t.Errorf("%s missing: %v", file.Name(), err)
		}
	}

	script := filepath.Join(directory, ".claude", "skills", "web-search", "scripts", "search.sh")
	info, err := os.Stat(script)
	if err != nil {
		t.Fatalf("skill script not copied: %v", err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Errorf("skill script mode = %v, want executable", info.Mode().Perm())
	}
}

func TestPrepareSkipsUnchangedSkill(t *testing.T) {
	t.Parallel()

	workspaces, skills := newTestWorkspaces(t)
	config := staff.Config{ID: "w1", AgentType: "claude-code", Skills: []staff.Skill{{Name: "web-search"}}}
	directory, err := workspaces.Prepare(context.Background(), config)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	copied := filepath.Join(directory, ".claude", "skills", "web-search", "SKILL.md")
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	os.Chtimes(copied, past, past)

	if _, err := workspaces.Prepare(context.Background(), config); err != nil {
		t.Fatalf("Prepare (unchanged): %v", err)
	}
	info, _ := os.Stat(copied)
	if !info.ModTime().Equal(past) {
		t.Error("unchanged skill was copied again")
	}

	os.WriteFile(filepath.Join(skills, "web-search", "SKILL.md"), []byte("# Web search v2\n"), 0644)
	if _, err := workspaces.Prepare(context.Background(), config); err != nil {
		t.Fatalf("Prepare (changed): %v", err)
	}
	content, _ := os.ReadFile(copied)
	if string(content) != "# Web search v2\n" {
		t.Errorf("changed skill content = %q", content)
	}
}

func TestPrepareMissingSkill(t *testing.T) {
	t.Parallel()

	workspaces, _ := newTestWorkspaces(t)
	config := staff.Config{ID: "w1", AgentType: "claude-code", Skills: []staff.Skill{{Name: "nonexistent"}}}
	if _, err := workspaces.Prepare(context.Background(), config); err == nil {
		t.Fatal("Prepare succeeded with a missing skill")
	}
}

func TestFingerprintDependsOnPathsAndContent(t *testing.T) {
	t.Parallel()

	first := t.TempDir()
	second := t.TempDir()
	os.WriteFile(filepath.Join(first, "a"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(second, "b"), []byte("x"), 0644)

	firstSum, err := Fingerprint(first)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	secondSum, _ := Fingerprint(second)
	if firstSum == secondSum {
		t.Error("renaming a file did not change the fingerprint")
	}
}
