// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists what must survive a daemon restart: one state
// record per worker (session id, last start, paused flag) and the
// settings the supervisor resolves into worker environments. Settings
// marked secret are sealed with the store's age identity, which lives
// in a 0600 file beside the database.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/KoreanThinker/openstaff-sub000/lib/atomicfile"
	"github.com/KoreanThinker/openstaff-sub000/lib/sealed"
	"github.com/KoreanThinker/openstaff-sub000/lib/sqlitepool"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

const schema = `
CREATE TABLE IF NOT EXISTS staff_state (
	staff_id        TEXT PRIMARY KEY,
	session_id      TEXT,
	last_started_at TEXT,
	paused          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	key    TEXT PRIMARY KEY,
	value  TEXT NOT NULL,
	sealed INTEGER NOT NULL DEFAULT 0
);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// IdentityPath is the age identity used for secret settings. It is
	// generated on first open.
	IdentityPath string

	Logger *slog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	pool     *sqlitepool.Pool
	identity sealed.Identity
	logger   *slog.Logger
}

// Open opens (creating if needed) the database and identity.
func Open(config Config) (*Store, error) {
	if config.IdentityPath == "" {
		return nil, fmt.Errorf("store: identity path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	identity, err := loadIdentity(config.IdentityPath, logger)
	if err != nil {
		return nil, err
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   config.Path,
		Logger: logger,
		Prepare: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{pool: pool, identity: identity, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// LoadState returns the persisted state of staffID. A worker with no
// record has the zero State.
func (s *Store) LoadState(ctx context.Context, staffID string) (staff.State, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return staff.State{}, fmt.Errorf("store: load state: %w", err)
	}
	defer s.pool.Put(conn)

	var state staff.State
	err = sqlitex.Execute(conn,
		`SELECT session_id, last_started_at, paused FROM staff_state WHERE staff_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{staffID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				state, scanErr = scanState(stmt)
				return scanErr
			},
		})
	if err != nil {
		return staff.State{}, fmt.Errorf("store: load state of %s: %w", staffID, err)
	}
	return state, nil
}

// SaveState replaces the persisted state of staffID.
func (s *Store) SaveState(ctx context.Context, staffID string, state staff.State) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: save state: %w", err)
	}
	defer s.pool.Put(conn)

	var sessionID, lastStartedAt any
	if state.SessionID != "" {
		sessionID = state.SessionID
	}
	if !state.LastStartedAt.IsZero() {
		lastStartedAt = state.LastStartedAt.UTC().Format(time.RFC3339Nano)
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO staff_state (staff_id, session_id, last_started_at, paused)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(staff_id) DO UPDATE SET
			session_id = excluded.session_id,
			last_started_at = excluded.last_started_at,
			paused = excluded.paused`,
		&sqlitex.ExecOptions{Args: []any{staffID, sessionID, lastStartedAt, state.Paused}})
	if err != nil {
		return fmt.Errorf("store: save state of %s: %w", staffID, err)
	}
	return nil
}

// States returns every persisted state keyed by staff id.
func (s *Store) States(ctx context.Context) (map[string]staff.State, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list states: %w", err)
	}
	defer s.pool.Put(conn)

	states := make(map[string]staff.State)
	err = sqlitex.Execute(conn,
		`SELECT session_id, last_started_at, paused, staff_id FROM staff_state ORDER BY staff_id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				state, err := scanState(stmt)
				if err != nil {
					return err
				}
				states[stmt.ColumnText(3)] = state
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list states: %w", err)
	}
	return states, nil
}

// scanState reads session_id, last_started_at, paused from columns 0-2.
func scanState(stmt *sqlite.Stmt) (staff.State, error) {
	var state staff.State
	if !stmt.ColumnIsNull(0) {
		state.SessionID = stmt.ColumnText(0)
	}
	if !stmt.ColumnIsNull(1) {
		startedAt, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(1))
		if err != nil {
			return staff.State{}, fmt.Errorf("parsing last_started_at: %w", err)
		}
		state.LastStartedAt = startedAt
	}
	state.Paused = stmt.ColumnBool(2)
	return state, nil
}

// loadIdentity reads the store identity, generating it when absent.
func loadIdentity(path string, logger *slog.Logger) (sealed.Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		identity, err := sealed.ParseIdentity(string(data))
		if err != nil {
			return sealed.Identity{}, fmt.Errorf("store: identity %s: %w", path, err)
		}
		return identity, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return sealed.Identity{}, fmt.Errorf("store: reading identity: %w", err)
	}

	identity, err := sealed.GenerateIdentity()
	if err != nil {
		return sealed.Identity{}, fmt.Errorf("store: %w", err)
	}
	if err := atomicfile.WriteFile(path, []byte(identity.PrivateKey+"\n"), 0600); err != nil {
		return sealed.Identity{}, fmt.Errorf("store: writing identity: %w", err)
	}
	logger.Info("generated store identity", "path", path, "public_key", identity.PublicKey)
	return identity, nil
}
