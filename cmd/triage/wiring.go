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
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianTriage/services/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/audit"
	"github.com/AleutianAI/AleutianTriage/services/triage/config"
	"github.com/AleutianAI/AleutianTriage/services/triage/egress"
	"github.com/AleutianAI/AleutianTriage/services/triage/orchestrator"
	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/resilience"
	"github.com/AleutianAI/AleutianTriage/services/triage/retrieval"
	"github.com/AleutianAI/AleutianTriage/services/triage/rules"
	"github.com/AleutianAI/AleutianTriage/services/triage/scores"
	"github.com/AleutianAI/AleutianTriage/services/triage/validation"
)

// app is the wired pipeline shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	loader *packs.Loader
	orch   *orchestrator.Orchestrator
	audit  *audit.Store
}

// packFS returns the pack directory, or the embedded packs when none is set.
func packFS(cfg config.PacksConfig) fs.FS {
	if cfg.Dir != "" {
		return os.DirFS(cfg.Dir)
	}
	return packs.Embedded()
}

// buildApp wires provider, egress guard, resilience layer, packs, scores,
// rules, retrieval, validator and the optional audit store.
func buildApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	fsys := packFS(cfg.Packs)
	loader := packs.NewLoader(fsys, logger)
	selector, err := packs.NewSelector(fsys, cfg.Packs.Default)
	if err != nil {
		return nil, fmt.Errorf("pack selector: %w", err)
	}

	registry := scores.NewRegistry(logger)
	if err := scores.RegisterDefaults(registry); err != nil {
		return nil, fmt.Errorf("registering scores: %w", err)
	}

	gen, err := llm.NewGenerator(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	guarded := egress.NewGuard(gen, cfg.Egress, logger)
	if _, err := egress.NewPolicy(cfg.Egress).Check(gen.Provider()); err != nil {
		logger.Warn("egress policy refuses the configured provider; every model call will fall back",
			slog.String("provider", gen.Provider()),
			slog.String("error", err.Error()))
	}
	resilient := resilience.NewClient(guarded, cfg.Resilience, resilience.WithLogger(logger))

	sampling := cfg.Sampling
	if sampling.Model == "" {
		sampling.Model = cfg.LLM.Model
	}

	deps := orchestrator.Deps{
		Packs:            loader,
		Selector:         selector,
		Rules:            rules.NewEngine(logger),
		Scores:           registry,
		Generator:        resilient,
		Validator:        validation.NewValidator(logger),
		RetrievalTopK:    cfg.Retrieval.TopK,
		RetrievalTimeout: cfg.Retrieval.Timeout,
		Sampling:         sampling,
		Logger:           logger,
	}

	if cfg.Retrieval.Enabled {
		entries, err := retrieval.LoadKnowledgeBase(cfg.Retrieval.KBPath)
		if err != nil {
			logger.Warn("knowledge base unavailable, retrieval disabled", slog.String("error", err.Error()))
		} else {
			deps.Searcher = retrieval.NewBM25Searcher(entries)
			logger.Info("retrieval enabled", slog.Int("entries", len(entries)))
		}
	}

	a := &app{cfg: cfg, logger: logger, loader: loader}
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit, logger)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		a.audit = store
		deps.Recorder = store
	}

	orch, err := orchestrator.New(deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch = orch

	logger.Info("pipeline ready",
		slog.String("provider", resilient.Provider()),
		slog.String("model", sampling.Model),
		slog.Bool("local", egress.IsLocal(resilient.Provider())),
		slog.Bool("retrieval", deps.Searcher != nil),
		slog.Bool("audit", a.audit != nil))
	return a, nil
}

// Close releases the audit store.
func (a *app) Close() {
	if a.audit == nil {
		return
	}
	if err := a.audit.Close(); err != nil {
		a.logger.Warn("closing audit store", slog.String("error", err.Error()))
	}
}

// loadConfig reads configuration and installs the logger.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, newLogger(cfg.Log, os.Stderr), nil
}
