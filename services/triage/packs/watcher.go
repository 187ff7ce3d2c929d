// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package packs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var packChanges = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triage",
		Name:      "pack_changes_total",
		Help:      "Pack files changed on disk since startup; changes apply after a restart",
	},
	[]string{"pack_id"},
)

// Watch reports pack files that change in dir until ctx is done.
//
// Description:
//
//	Packs are memoized for the life of the process, so an edited pack only
//	takes effect after a restart. Watch logs a warning naming the changed
//	pack and counts it in triage_pack_changes_total so operators know a
//	restart is pending. It never touches the cache.
//
// Thread Safety: Run in its own goroutine.
func (l *Loader) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("packs: creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("packs: watching %s: %w", dir, err)
	}
	l.logger.Info("watching pack directory", slog.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			l.handleEvent(ev)
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("pack watcher error", slog.String("error", werr.Error()))
		}
	}
}

// handleEvent maps a file event to a pack id and reports it. It returns the
// id, or "" when the event does not concern a pack.
func (l *Loader) handleEvent(ev fsnotify.Event) string {
	if !ev.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
		return ""
	}
	name := filepath.Base(ev.Name)
	ext := filepath.Ext(name)
	if ext != ".yaml" && ext != ".yml" {
		return ""
	}
	id := strings.TrimSuffix(name, ext)
	if name != SelectionFile && !packIDPattern.MatchString(id) {
		return ""
	}
	_, loaded := l.cache.Load(id)
	packChanges.WithLabelValues(id).Inc()
	l.logger.Warn("pack file changed on disk, restart to apply",
		slog.String("pack_id", id),
		slog.String("op", ev.Op.String()),
		slog.Bool("loaded", loaded))
	return id
}
