// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signalfile reads and watches the append-only JSONL files a
// worker writes into its workspace:
//
//   - cycles.jsonl: one entry per completed gather/execute/evaluate loop
//   - kpi.jsonl: one entry per KPI measurement
//   - signals.jsonl: requests to the supervisor; an entry of type
//     "giveup" asks to be paused for a human
//
// Each line is a JSON object with at least a "type" field for signals.
// Only the latest entry of signals.jsonl is significant.
package signalfile

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
	"github.com/zeebo/blake3"
)

// File names one of the worker-owned files.
type File string

const (
	Cycles  File = "cycles"
	KPI     File = "kpi"
	Signals File = "signals"
)

// Files lists every watched file.
var Files = []File{Cycles, KPI, Signals}

// Name returns the file's base name.
func (f File) Name() string { return string(f) + ".jsonl" }

// Path returns the file's location inside directory.
func (f File) Path(directory string) string { return filepath.Join(directory, f.Name()) }

// TypeGiveup is the signal type requesting a supervised pause.
const TypeGiveup = "giveup"

// TypeResume is written by the supervisor when it resumes a worker, so
// that an earlier giveup is no longer the latest entry.
const TypeResume = "resume"

// tailWindow bounds how much of a file Latest reads.
const tailWindow = 64 * 1024

// Entry is one line of a signal file.
type Entry struct {
	// Offset is the byte offset of the line within the file.
	Offset int64

	Type   string
	Reason string

	// Raw is the line without its newline.
	Raw string
}

// Key identifies the entry within its file. Rewriting a line at the
// same offset with different content yields a different key.
func (e Entry) Key() string {
	sum := blake3.Sum256([]byte(e.Raw))
	return fmt.Sprintf("%d:%s", e.Offset, hex.EncodeToString(sum[:8]))
}

// Latest returns the last non-empty line of path. found is false for a
// missing or empty file.
func Latest(path string) (entry Entry, found bool, err error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Entry{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	start := max(info.Size()-tailWindow, 0)
	tail := make([]byte, info.Size()-start)
	if _, err := file.ReadAt(tail, start); err != nil && !errors.Is(err, io.EOF) {
		return Entry{}, false, fmt.Errorf("reading %s: %w", path, err)
	}

	tail = bytes.TrimRight(tail, " \t\r\n")
	if len(tail) == 0 {
		return Entry{}, false, nil
	}
	lineStart := bytes.LastIndexByte(tail, '\n') + 1
	if lineStart == 0 && start > 0 {
		return Entry{}, false, fmt.Errorf("reading %s: last line exceeds %d bytes", path, tailWindow)
	}
	raw := string(bytes.TrimSpace(tail[lineStart:]))
	return Entry{
		Offset: start + int64(lineStart),
		Type:   gjson.Get(raw, "type").String(),
		Reason: firstString(raw, "reason", "message"),
		Raw:    raw,
	}, true, nil
}

// Count returns the number of non-empty lines in path. A missing file
// counts as zero.
func Count(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	count := 0
	for line := range bytes.SplitSeq(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			count++
		}
	}
	return count, nil
}

// Append writes one JSON entry with the given type and timestamp,
// creating the file if needed.
func Append(path, entryType string, now time.Time) error {
	line, err := json.Marshal(map[string]string{
		"type":      entryType,
		"timestamp": now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding %s entry: %w", entryType, err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return file.Close()
}

// ClearGiveup appends a resume entry when the latest entry of path is a
// giveup. It reports whether it wrote anything.
func ClearGiveup(path string, now time.Time) (bool, error) {
	latest, found, err := Latest(path)
	if err != nil {
		return false, err
	}
	if !found || latest.Type != TypeGiveup {
		return false, nil
	}
	if err := Append(path, TypeResume, now); err != nil {
		return false, err
	}
	return true, nil
}

// Ensure creates every watched file in directory that does not exist.
func Ensure(directory string) error {
	for _, file := range Files {
		handle, err := os.OpenFile(file.Path(directory), os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("creating %s: %w", file.Name(), err)
		}
		handle.Close()
	}
	return nil
}

func firstString(raw string, fields ...string) string {
	for _, field := range fields {
		if value := gjson.Get(raw, field); value.Type == gjson.String {
			return value.Str
		}
	}
	return ""
}
