// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace prepares the directory a worker's agent runs in:
// the instruction files the agent reads on startup, the signal files
// it writes to, and copies of its attached skills.
package workspace

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"github.com/zeebo/blake3"

	"github.com/KoreanThinker/openstaff-sub000/lib/atomicfile"
	"github.com/KoreanThinker/openstaff-sub000/lib/signalfile"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

// instructionFiles are the names agents look for on startup. Both get
// the same content.
var instructionFiles = []string{"AGENTS.md", "CLAUDE.md"}

// fingerprintFile records the content hash of a copied skill.
const fingerprintFile = ".fingerprint"

var instructionTemplate = template.Must(template.New("instructions").Parse(`# {{.Name}}{{if .Role}} ({{.Role}}){{end}}

You are an autonomous staff member. Work in a continuous loop of
gather, execute, evaluate. Do not wait for a human between cycles.

## Gather

{{.Gather}}

## Execute

{{.Execute}}

## Evaluate

{{.Evaluate}}
{{if .KPI}}
## KPI

{{.KPI}}
{{end}}
## Reporting

- After every cycle append one JSON line to cycles.jsonl, for example
  {"cycle": 3, "summary": "...", "timestamp": "2026-01-01T00:00:00Z"}.
- Append every KPI measurement as one JSON line to kpi.jsonl.
- If you cannot continue without a human, append
  {"type": "giveup", "reason": "..."} to signals.jsonl and wait.
`))

// Config holds the workspace locations.
type Config struct {
	// Root contains one directory per worker.
	Root string

	// SkillsRoot contains one directory per installed skill.
	SkillsRoot string

	Logger *slog.Logger
}

// Workspaces prepares per-worker directories.
type Workspaces struct {
	root       string
	skillsRoot string
	logger     *slog.Logger
}

// New returns a Workspaces rooted at config.Root.
func New(config Config) *Workspaces {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Workspaces{root: config.Root, skillsRoot: config.SkillsRoot, logger: logger}
}

// Directory returns the workspace path of staffID.
func (w *Workspaces) Directory(staffID string) string {
	return filepath.Join(w.root, staffID)
}

// Prepare creates or refreshes the workspace of config and returns its
// path.
func (w *Workspaces) Prepare(ctx context.Context, config staff.Config) (string, error) {
	directory := w.Directory(config.ID)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return "", fmt.Errorf("creating workspace: %w", err)
	}

	var instructions bytes.Buffer
	if err := instructionTemplate.Execute(&instructions, config); err != nil {
		return "", fmt.Errorf("rendering instructions: %w", err)
	}
	for _, name := range instructionFiles {
		if err := writeIfChanged(filepath.Join(directory, name), instructions.Bytes()); err != nil {
			return "", err
		}
	}

	if err := signalfile.Ensure(directory); err != nil {
		return "", fmt.Errorf("creating signal files: %w", err)
	}

	for _, skill := range config.Skills {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := w.attachSkill(directory, skill.Name); err != nil {
			return "", fmt.Errorf("attaching skill %s: %w", skill.Name, err)
		}
	}
	return directory, nil
}

// attachSkill copies a skill into <workspace>/.claude/skills/<name>
// unless the copy already has the source's fingerprint.
func (w *Workspaces) attachSkill(directory, name string) error {
	source := filepath.Join(w.skillsRoot, name)
	if info, err := os.Stat(source); err != nil || !info.IsDir() {
		return fmt.Errorf("skill directory %s not found", source)
	}
	fingerprint, err := Fingerprint(source)
	if err != nil {
		return err
	}

	destination := filepath.Join(directory, ".claude", "skills", name)
	existing, err := os.ReadFile(filepath.Join(destination, fingerprintFile))
	if err == nil && string(existing) == fingerprint {
		return nil
	}

	if err := os.RemoveAll(destination); err != nil {
		return fmt.Errorf("removing stale copy: %w", err)
	}
	if err := copyTree(source, destination); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(destination, fingerprintFile), []byte(fingerprint), 0644); err != nil {
		return fmt.Errorf("writing fingerprint: %w", err)
	}
	w.logger.Info("skill attached", "skill", name, "workspace", directory, "fingerprint", fingerprint[:16])
	return nil
}

// Fingerprint hashes every regular file under root together with its
// relative path.
func Fingerprint(root string) (string, error) {
	hasher := blake3.New()
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() || entry.Name() == fingerprintFile {
			return nil
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		hasher.Write([]byte(filepath.ToSlash(relative)))
		hasher.Write([]byte{0})
		if _, err := io.Copy(hasher, file); err != nil {
			return err
		}
		hasher.Write([]byte{0})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", root, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func copyTree(source, destination string) error {
	return filepath.WalkDir(source, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destination, relative)
		switch {
		case entry.IsDir():
			return os.MkdirAll(target, 0755)
		case entry.Type().IsRegular():
			info, err := entry.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		default:
			// Symlinks and devices are not part of a skill.
			return nil
		}
	})
}

func copyFile(source, destination string, mode os.FileMode) error {
	input, err := os.Open(source)
	if err != nil {
		return err
	}
	defer input.Close()
	output, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(output, input); err != nil {
		output.Close()
		return fmt.Errorf("copying %s: %w", source, err)
	}
	return output.Close()
}

func writeIfChanged(path string, content []byte) error {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, content) {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return atomicfile.WriteFile(path, content, 0644)
}
