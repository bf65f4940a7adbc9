// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package roster reads worker definitions from a directory with one
// JSONC file per worker (JSON plus comments and trailing commas). The
// file name without extension is the worker id. Definitions are read
// on every lookup so edits take effect at the next start.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

var extensions = []string{".jsonc", ".json"}

// Roster is a directory of worker definitions.
type Roster struct {
	directory string
}

// New returns a Roster over directory.
func New(directory string) *Roster {
	return &Roster{directory: directory}
}

// Parse decodes a JSONC definition.
func Parse(data []byte) (staff.Config, error) {
	var config staff.Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &config); err != nil {
		return staff.Config{}, fmt.Errorf("parsing staff definition: %w", err)
	}
	return config, nil
}

// Config returns the definition of staffID. The error wraps
// staff.ErrNotFound when no file exists.
func (r *Roster) Config(staffID string) (staff.Config, error) {
	if staffID == "" || strings.ContainsAny(staffID, `/\`) || strings.HasPrefix(staffID, ".") {
		return staff.Config{}, fmt.Errorf("staff %q: %w", staffID, staff.ErrNotFound)
	}
	for _, extension := range extensions {
		path := filepath.Join(r.directory, staffID+extension)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return staff.Config{}, fmt.Errorf("reading %s: %w", path, err)
		}
		config, err := Parse(data)
		if err != nil {
			return staff.Config{}, fmt.Errorf("%s: %w", path, err)
		}
		if config.ID == "" {
			config.ID = staffID
		}
		if config.ID != staffID {
			return staff.Config{}, fmt.Errorf("%s: id %q does not match file name", path, config.ID)
		}
		if err := config.Validate(); err != nil {
			return staff.Config{}, fmt.Errorf("%s: %w", path, err)
		}
		return config, nil
	}
	return staff.Config{}, fmt.Errorf("staff %q: %w", staffID, staff.ErrNotFound)
}

// IDs lists every defined worker id in sorted order.
func (r *Roster) IDs() ([]string, error) {
	entries, err := os.ReadDir(r.directory)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading roster %s: %w", r.directory, err)
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		extension := filepath.Ext(entry.Name())
		if extension != ".jsonc" && extension != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), extension)
		if _, duplicate := seen[id]; duplicate {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
