// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package packs loads complaint packs: the per-complaint-family vocabulary,
// red flags, scores, override rules and fallback decisions that drive the
// triage pipeline.
package packs

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

//go:embed data/*.yaml data/_selection.yaml
var embedded embed.FS

// ErrPackNotFound indicates no pack exists for the requested identifier.
var ErrPackNotFound = errors.New("pack not found")

// ErrInvalidPack indicates a pack file exists but cannot be parsed or fails
// validation.
var ErrInvalidPack = errors.New("invalid pack")

// packIDPattern restricts identifiers to file-safe names. Files starting with
// an underscore are loader metadata, not packs.
var packIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Embedded returns the packs compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		panic(fmt.Sprintf("packs: embedded data: %v", err))
	}
	return sub
}

// =============================================================================
// Loader
// =============================================================================

// Loader reads and memoizes packs by identifier.
//
// Description:
//
//	The first Load of an identifier reads <id>.yaml from the backing file
//	system, validates it and caches it for the lifetime of the process.
//	Concurrent first loads of the same identifier share one read. Later
//	lookups are served from a sync.Map without taking a lock. Failed loads
//	are not cached.
//
// Thread Safety: Safe for concurrent use.
type Loader struct {
	fsys   fs.FS
	logger *slog.Logger
	cache  sync.Map // id -> *Pack
	group  singleflight.Group
}

// NewLoader creates a loader over fsys.
//
// Inputs:
//   - fsys: File system holding <id>.yaml pack files. Use Embedded() for
//     the built-in packs or os.DirFS for an override directory.
//   - logger: Logger for load diagnostics. May be nil.
//
// Outputs:
//   - *Loader: Ready-to-use loader. Never nil.
func NewLoader(fsys fs.FS, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{fsys: fsys, logger: logger}
}

// Load returns the pack for id.
//
// Inputs:
//   - ctx: Context for cancellation of the first load.
//   - id: Pack identifier (file name without extension).
//
// Outputs:
//   - *Pack: The immutable pack.
//   - error: ErrPackNotFound or ErrInvalidPack (wrapped), or a context error.
func (l *Loader) Load(ctx context.Context, id string) (*Pack, error) {
	if p, ok := l.cache.Load(id); ok {
		return p.(*Pack), nil
	}
	if !packIDPattern.MatchString(id) {
		return nil, fmt.Errorf("packs: %q: %w", id, ErrPackNotFound)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("packs: loading %q: %w", id, err)
	}

	v, err, _ := l.group.Do(id, func() (any, error) {
		if p, ok := l.cache.Load(id); ok {
			return p, nil
		}
		p, err := l.read(id)
		if err != nil {
			return nil, err
		}
		l.cache.Store(id, p)
		l.logger.Info("pack loaded",
			slog.String("pack_id", id),
			slog.String("version", p.Meta.Version),
			slog.Int("rules", len(p.Rules.DispositionOverrides)),
			slog.Int("red_flags", len(p.RedFlags)))
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pack), nil
}

// read parses and validates one pack file.
func (l *Loader) read(id string) (*Pack, error) {
	raw, err := readFirst(l.fsys, id+".yaml", id+".yml")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("packs: %q: %w", id, ErrPackNotFound)
		}
		return nil, fmt.Errorf("packs: reading %q: %w", id, err)
	}

	var p Pack
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("packs: %q: %w: %v", id, ErrInvalidPack, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	if p.ID != id {
		return nil, fmt.Errorf("packs: %q: %w: declared id %q", id, ErrInvalidPack, p.ID)
	}
	if err := schema.Validator().Struct(&p); err != nil {
		return nil, fmt.Errorf("packs: %q: %w: %v", id, ErrInvalidPack, err)
	}
	for label := range p.Codes.Conditions {
		if !slices.Contains(p.Vocab.ProbableCausesAllow, label) {
			l.logger.Warn("pack codes reference a cause outside the whitelist",
				slog.String("pack_id", id),
				slog.String("cause", label))
		}
	}
	p.index()
	return &p, nil
}

// IDs lists the pack identifiers available in the backing file system.
func (l *Loader) IDs() ([]string, error) {
	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("packs: listing: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := ""
		switch {
		case strings.HasSuffix(name, ".yaml"):
			ext = ".yaml"
		case strings.HasSuffix(name, ".yml"):
			ext = ".yml"
		default:
			continue
		}
		id := strings.TrimSuffix(name, ext)
		if packIDPattern.MatchString(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func readFirst(fsys fs.FS, names ...string) ([]byte, error) {
	var lastErr error
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, lastErr
}
