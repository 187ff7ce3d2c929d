// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianTriage/services/triage/config"
)

// newLogger builds the process logger and installs it as the default.
//
// Format "auto" writes text to a terminal and JSON otherwise, so container
// logs stay machine-readable.
func newLogger(cfg config.LogConfig, w *os.File) *slog.Logger {
	logger := slog.New(newHandler(cfg, w, isTerminal(w)))
	slog.SetDefault(logger)
	return logger
}

func newHandler(cfg config.LogConfig, w io.Writer, terminal bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	switch cfg.Format {
	case "text":
		return slog.NewTextHandler(w, opts)
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		if terminal {
			return slog.NewTextHandler(w, opts)
		}
		return slog.NewJSONHandler(w, opts)
	}
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
