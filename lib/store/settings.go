// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/KoreanThinker/openstaff-sub000/lib/sealed"
)

// Setting describes one stored key without its value.
type Setting struct {
	Key    string
	Sealed bool
}

// Get returns the value of key, unsealing it if needed. A missing key
// returns "" and no error.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("store: get %s: %w", key, err)
	}
	defer s.pool.Put(conn)

	var value string
	var isSealed bool
	err = sqlitex.Execute(conn, `SELECT value, sealed FROM settings WHERE key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				isSealed = stmt.ColumnBool(1)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("store: get %s: %w", key, err)
	}
	if !isSealed {
		return value, nil
	}
	plaintext, err := sealed.Decrypt(value, s.identity.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("store: unsealing %s: %w", key, err)
	}
	return string(plaintext), nil
}

// Set stores a plain value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.put(ctx, key, value, false)
}

// SetSecret seals value to the store identity before storing it.
func (s *Store) SetSecret(ctx context.Context, key, value string) error {
	ciphertext, err := sealed.Encrypt([]byte(value), s.identity.PublicKey)
	if err != nil {
		return fmt.Errorf("store: sealing %s: %w", key, err)
	}
	return s.put(ctx, key, ciphertext, true)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	defer s.pool.Put(conn)
	if err := sqlitex.Execute(conn, `DELETE FROM settings WHERE key = ?`,
		&sqlitex.ExecOptions{Args: []any{key}}); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// Settings lists stored keys in order.
func (s *Store) Settings(ctx context.Context) ([]Setting, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list settings: %w", err)
	}
	defer s.pool.Put(conn)

	var settings []Setting
	err = sqlitex.Execute(conn, `SELECT key, sealed FROM settings ORDER BY key`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				settings = append(settings, Setting{Key: stmt.ColumnText(0), Sealed: stmt.ColumnBool(1)})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list settings: %w", err)
	}
	return settings, nil
}

func (s *Store) put(ctx context.Context, key, value string, isSealed bool) (err error) {
	if key == "" {
		return fmt.Errorf("store: empty setting key")
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return sqlitex.Execute(conn,
		`INSERT INTO settings (key, value, sealed) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, sealed = excluded.sealed`,
		&sqlitex.ExecOptions{Args: []any{key, value, isSealed}})
}
