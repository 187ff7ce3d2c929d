// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scores computes clinical severity scores named by complaint packs.
package scores

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

// Func computes one score. Functions must be deterministic and must not
// mutate their arguments. Missing inputs are handled inside the function
// with neutral defaults.
type Func func(in schema.Intake, c schema.Context) (float64, error)

// ErrDuplicateScore is returned when a name is registered twice.
var ErrDuplicateScore = errors.New("score already registered")

// Registry maps score names to functions.
//
// Description:
//
//	Scores are registered explicitly at startup; nothing is added from
//	package init. Run computes every score a pack names, skipping names
//	that are not registered and functions that fail, so one broken score
//	never takes the others down.
//
// Thread Safety: Safe for concurrent use. Registration is expected at
// startup but is guarded by a RWMutex regardless.
type Registry struct {
	mu     sync.RWMutex
	fns    map[string]Func
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{fns: make(map[string]Func), logger: logger}
}

// Register adds a score function under name.
//
// Outputs:
//   - error: ErrDuplicateScore if name is taken, or an error for an empty
//     name or nil function.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("scores: register %q: name and function are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fns[name]; ok {
		return fmt.Errorf("scores: %q: %w", name, ErrDuplicateScore)
	}
	r.fns[name] = fn
	return nil
}

// Names lists registered score names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for n := range r.fns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run computes every score named by pack.
//
// Inputs:
//   - ctx: Carries the request for log correlation. Scores are synchronous.
//   - pack: Pack whose score list is evaluated.
//   - in: Intake record.
//   - c: Normalized clinical context.
//
// Outputs:
//   - map[string]float64: Score name to value. Missing and failing scores
//     are absent. Never nil.
func (r *Registry) Run(ctx context.Context, pack *packs.Pack, in schema.Intake, c schema.Context) map[string]float64 {
	out := make(map[string]float64, len(pack.Scores))
	for _, name := range pack.ScoreNames() {
		r.mu.RLock()
		fn, ok := r.fns[name]
		r.mu.RUnlock()
		if !ok {
			r.logger.InfoContext(ctx, "score not registered, skipping",
				slog.String("pack_id", pack.ID),
				slog.String("score", name))
			continue
		}
		v, err := safeCall(fn, in, c)
		if err != nil {
			r.logger.WarnContext(ctx, "score failed, skipping",
				slog.String("pack_id", pack.ID),
				slog.String("score", name),
				slog.String("error", err.Error()))
			continue
		}
		out[name] = v
	}
	return out
}

// safeCall converts a panicking score into an error.
func safeCall(fn Func, in schema.Intake, c schema.Context) (v float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(in, c)
}

// RegisterDefaults registers the built-in scores.
func RegisterDefaults(r *Registry) error {
	builtins := []struct {
		name string
		fn   Func
	}{
		{NameNEWS2, NEWS2},
		{NameCRB65, CRB65},
		{NameCentorMcIsaac, CentorMcIsaac},
		{NameWellsPESimplified, WellsPESimplified},
	}
	for _, b := range builtins {
		if err := r.Register(b.name, b.fn); err != nil {
			return err
		}
	}
	return nil
}
