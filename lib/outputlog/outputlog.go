// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package outputlog persists worker terminal output. Each worker has
// an active output.log; when it would exceed the size limit it is
// compressed with zstd into a timestamped segment and a new active file
// is started. Only the newest segments are kept.
package outputlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/events"
)

const (
	activeName    = "output.log"
	segmentPrefix = "output-"
	segmentSuffix = ".log.zst"

	// segmentTimeFormat sorts lexically in time order.
	segmentTimeFormat = "20060102T150405.000000000"

	DefaultMaxBytes = 8 << 20
	DefaultKeep     = 5
)

// Config holds the parameters for a Recorder.
type Config struct {
	// Directory contains one subdirectory per worker.
	Directory string

	// MaxBytes is the size at which the active file is rotated.
	MaxBytes int64

	// Keep is the number of compressed segments retained per worker.
	Keep int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Recorder appends output to per-worker logs. It is safe for
// concurrent use.
type Recorder struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*activeFile
}

type activeFile struct {
	file *os.File
	size int64
}

// New returns a Recorder. Files are opened on first write.
func New(config Config) (*Recorder, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("outputlog: directory is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}
	if config.Keep <= 0 {
		config.Keep = DefaultKeep
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{config: config, logger: logger, active: make(map[string]*activeFile)}, nil
}

// Write appends data to the log of staffID, rotating first when the
// active file would exceed the limit.
func (r *Recorder) Write(staffID, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.openLocked(staffID)
	if err != nil {
		return err
	}
	if current.size > 0 && current.size+int64(len(data)) > r.config.MaxBytes {
		if err := r.rotateLocked(staffID, current); err != nil {
			return err
		}
		if current, err = r.openLocked(staffID); err != nil {
			return err
		}
	}
	written, err := current.file.WriteString(data)
	current.size += int64(written)
	if err != nil {
		return fmt.Errorf("outputlog: writing %s: %w", staffID, err)
	}
	return nil
}

// Run records every log-data event from subscription until ctx ends or
// the subscription closes.
func (r *Recorder) Run(ctx context.Context, subscription *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscription.C:
			if !ok {
				return
			}
			if event.Kind != events.KindLogData || event.Log == nil {
				continue
			}
			if err := r.Write(event.StaffID, event.Log.Data); err != nil {
				r.logger.Warn("output log write failed", "staff_id", event.StaffID, "error", err)
			}
		}
	}
}

// Close closes every active file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for staffID, current := range r.active {
		if err := current.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log of %s: %w", staffID, err))
		}
		delete(r.active, staffID)
	}
	return errors.Join(errs...)
}

func (r *Recorder) openLocked(staffID string) (*activeFile, error) {
	if current, ok := r.active[staffID]; ok {
		return current, nil
	}
	directory := filepath.Join(r.config.Directory, staffID)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("outputlog: creating %s: %w", directory, err)
	}
	file, err := os.OpenFile(filepath.Join(directory, activeName), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("outputlog: opening log of %s: %w", staffID, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("outputlog: stat log of %s: %w", staffID, err)
	}
	current := &activeFile{file: file, size: info.Size()}
	r.active[staffID] = current
	return current, nil
}

func (r *Recorder) rotateLocked(staffID string, current *activeFile) error {
	delete(r.active, staffID)
	if err := current.file.Close(); err != nil {
		return fmt.Errorf("outputlog: closing log of %s: %w", staffID, err)
	}

	directory := filepath.Join(r.config.Directory, staffID)
	activePath := filepath.Join(directory, activeName)
	segmentPath := filepath.Join(directory,
		segmentPrefix+r.config.Clock.Now().UTC().Format(segmentTimeFormat)+segmentSuffix)
	if err := compressFile(activePath, segmentPath); err != nil {
		return fmt.Errorf("outputlog: compressing log of %s: %w", staffID, err)
	}
	if err := os.Remove(activePath); err != nil {
		return fmt.Errorf("outputlog: removing rotated log of %s: %w", staffID, err)
	}

	segments, err := Segments(r.config.Directory, staffID)
	if err != nil {
		return err
	}
	for len(segments) > r.config.Keep {
		if err := os.Remove(segments[0]); err != nil {
			r.logger.Warn("removing old output segment failed", "path", segments[0], "error", err)
		}
		segments = segments[1:]
	}
	r.logger.Info("output log rotated", "staff_id", staffID, "segment", segmentPath)
	return nil
}

// Segments lists the compressed segments of staffID, oldest first.
func Segments(directory, staffID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(directory, staffID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("outputlog: listing segments of %s: %w", staffID, err)
	}
	var segments []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix) {
			segments = append(segments, filepath.Join(directory, staffID, name))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

// ActivePath returns the path of the uncompressed log of staffID.
func ActivePath(directory, staffID string) string {
	return filepath.Join(directory, staffID, activeName)
}

// CopySegment decompresses the segment at path into writer.
func CopySegment(writer io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("outputlog: opening segment: %w", err)
	}
	defer file.Close()
	decoder, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("outputlog: creating decoder: %w", err)
	}
	defer decoder.Close()
	if _, err := io.Copy(writer, decoder); err != nil {
		return fmt.Errorf("outputlog: decompressing %s: %w", path, err)
	}
	return nil
}

func compressFile(sourcePath, destinationPath string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.OpenFile(destinationPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	encoder, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		destination.Close()
		os.Remove(destinationPath)
		return err
	}
	if _, err := io.Copy(encoder, source); err != nil {
		encoder.Close()
		destination.Close()
		os.Remove(destinationPath)
		return err
	}
	if err := encoder.Close(); err != nil {
		destination.Close()
		os.Remove(destinationPath)
		return err
	}
	return destination.Close()
}
