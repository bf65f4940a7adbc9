// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal keeps an append-only record of supervisor events as
// a CBOR sequence (RFC 8742), one item per event. The journal is what
// an operator reads after the fact to see why a worker was paused or
// stopped permanently.
package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/KoreanThinker/openstaff-sub000/lib/codec"
	"github.com/KoreanThinker/openstaff-sub000/lib/events"
)

// Writer appends events to a journal file.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	encoder *codec.Encoder
}

// Create opens path for appending, creating it if needed.
func Create(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Writer{file: file, encoder: codec.NewEncoder(file)}, nil
}

// Append writes one event.
func (w *Writer) Append(event events.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.encoder.Encode(event); err != nil {
		return fmt.Errorf("appending %s event to journal: %w", event.Kind, err)
	}
	return nil
}

// Close syncs and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("syncing journal: %w", err)
	}
	return w.file.Close()
}

// Record appends every event from subscription until ctx ends or the
// subscription closes. Append failures are logged and skipped.
func Record(ctx context.Context, subscription *events.Subscription, writer *Writer, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscription.C:
			if !ok {
				return
			}
			if err := writer.Append(event); err != nil {
				logger.Error("journal append failed", "kind", event.Kind, "staff_id", event.StaffID, "error", err)
			}
		}
	}
}

// Read decodes every event in the journal at path, in order, calling
// visit for each. A truncated final item (a crash mid-write) ends the
// read without error.
func Read(path string, visit func(events.Event) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer file.Close()

	decoder := codec.NewDecoder(file)
	for {
		var event events.Event
		err := decoder.Decode(&event)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decoding journal: %w", err)
		}
		if err := visit(event); err != nil {
			return err
		}
	}
}
