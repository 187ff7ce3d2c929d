// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit keeps a retrievable record of every triage decision in an
// embedded BadgerDB.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

// keyPrefix namespaces record keys by storage layout version.
const keyPrefix = "triage/v1/rec/"

// DefaultRetention is used when Config.Retention is not positive.
const DefaultRetention = 30 * 24 * time.Hour

// ErrNotFound is returned by Get for an unknown or expired record.
var ErrNotFound = errors.New("audit: record not found")

// Record is one audited triage.
type Record struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	PackID    string          `json:"pack_id"`
	Intake    schema.Intake   `json:"intake"`
	Output    schema.Output   `json:"output"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Config selects where records live and how long they are kept.
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path" validate:"required_if=Enabled true InMemory false"`
	InMemory  bool          `yaml:"in_memory"`
	Retention time.Duration `yaml:"retention"`
}

// Store persists records with a TTL equal to the retention period.
//
// Expiry is enforced by BadgerDB itself: an expired key reads as absent.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Open opens (or creates) the store described by cfg.
//
// Inputs:
//   - cfg: Path is required unless InMemory is set.
//   - logger: May be nil.
//
// Outputs:
//   - *Store: Caller must Close it.
//   - error: Non-nil when the database cannot be opened.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("audit: path is required for an on-disk store")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: opening badger: %w", err)
	}
	ttl := cfg.Retention
	if ttl <= 0 {
		ttl = DefaultRetention
	}
	return &Store{db: db, ttl: ttl, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes a record. A record with the same ID is replaced.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("audit put: %w", err)
	}
	if rec.ID == "" {
		return errors.New("audit put: record id is empty")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit put: encoding: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(recordKey(rec.ID), raw).WithTTL(s.ttl))
	})
	if err != nil {
		return fmt.Errorf("audit put: %w", err)
	}
	s.logger.Debug("audit: record saved",
		slog.String("id", rec.ID),
		slog.String("pack", rec.PackID),
	)
	return nil
}

// Get reads one record. Returns ErrNotFound for unknown or expired IDs.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, fmt.Errorf("audit get: %w", err)
	}
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("audit get: %w", err)
	}
	return rec, nil
}

// List returns up to limit records, newest first. Corrupt records are
// skipped and logged.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("audit list: %w", err)
	}
	if limit <= 0 {
		limit = 100
	}

	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.Valid(); it.Next() {
			item := it.Item()
			var rec Record
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				s.logger.Warn("audit: skipping corrupt record",
					slog.String("key", string(item.Key())),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit list: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RunGC reclaims value-log space every interval until ctx is done. It is
// meant to run in its own goroutine for on-disk stores.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Rewrites one file per call; ErrNoRewrite ends the round.
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

func recordKey(id string) []byte {
	return []byte(keyPrefix + id)
}
