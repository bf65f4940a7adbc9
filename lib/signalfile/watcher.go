// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signalfile

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Change reports that one of the worker-owned files was written,
// created, or replaced.
type Change struct {
	File File
	Path string
}

// Watcher delivers Changes for one workspace directory.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching directory. onChange runs on the watcher's
// goroutine; it must not call Close.
func Watch(directory string, onChange func(Change), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	// The directory is watched rather than the files so that a file
	// replaced by rename keeps being observed.
	if err := watcher.Add(directory); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", directory, err)
	}

	byName := make(map[string]File, len(Files))
	for _, file := range Files {
		byName[file.Name()] = file
	}

	w := &Watcher{watcher: watcher, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				file, watched := byName[filepath.Base(event.Name)]
				if !watched {
					continue
				}
				onChange(Change{File: file, Path: event.Name})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("file watcher error", "directory", directory, "error", err)
			}
		}
	}()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to finish.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
