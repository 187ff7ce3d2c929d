// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the triage service configuration: YAML defaults,
// overridden by TRIAGE_* environment variables, then validated.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTriage/services/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/audit"
	"github.com/AleutianAI/AleutianTriage/services/triage/compose"
	"github.com/AleutianAI/AleutianTriage/services/triage/egress"
	"github.com/AleutianAI/AleutianTriage/services/triage/resilience"
)

// ErrInvalidConfig wraps every load or validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full service configuration.
//
// Thread Safety: A value type. Safe to copy and share after Load.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	LLM        llm.Config        `yaml:"llm"`
	Sampling   compose.Options   `yaml:"sampling"`
	Resilience resilience.Config `yaml:"resilience"`
	Egress     egress.Config     `yaml:"egress"`
	Packs      PacksConfig       `yaml:"packs"`
	Retrieval  RetrievalConfig   `yaml:"retrieval"`
	Audit      audit.Config      `yaml:"audit"`
	Log        LogConfig         `yaml:"log"`
	API        APIConfig         `yaml:"api"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address.
	// Env: TRIAGE_ADDR (default: ":8090")
	Addr string `yaml:"addr" validate:"required"`

	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// PacksConfig locates complaint packs.
type PacksConfig struct {
	// Dir overrides the embedded packs with a directory of YAML files.
	// Env: TRIAGE_PACKS_DIR
	Dir string `yaml:"dir"`

	// Default is the pack used when no synonym matches.
	// Env: TRIAGE_DEFAULT_PACK
	Default string `yaml:"default"`

	// Watch logs pack files under Dir that change after startup.
	// Env: TRIAGE_PACKS_WATCH
	Watch bool `yaml:"watch"`
}

// RetrievalConfig controls reference-snippet search.
type RetrievalConfig struct {
	// Env: TRIAGE_RETRIEVAL_ENABLED (default: "true")
	Enabled bool          `yaml:"enabled"`
	TopK    int           `yaml:"top_k" validate:"gte=0,lte=20"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// KBPath overrides the embedded knowledge base.
	KBPath string `yaml:"kb_path"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	// Env: TRIAGE_LOG_LEVEL (default: "info")
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format "auto" picks text on a terminal and JSON otherwise.
	// Env: TRIAGE_LOG_FORMAT (default: "auto")
	Format string `yaml:"format" validate:"oneof=auto json text"`
}

// APIConfig bounds request admission per client.
type APIConfig struct {
	// RatePerSecond of zero disables admission limiting.
	// Env: TRIAGE_API_RATE (default: 5)
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gte=0"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	// Traces is none, stdout or otlp.
	// Env: TRIAGE_TRACES (default: "none")
	Traces string `yaml:"traces" validate:"oneof=none stdout otlp"`

	// OTLPEndpoint is the collector host:port for otlp traces.
	// Env: OTEL_EXPORTER_OTLP_ENDPOINT
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Traces otlp"`

	// Metrics is prometheus, stdout or none.
	// Env: TRIAGE_METRICS (default: "prometheus")
	Metrics string `yaml:"metrics" validate:"oneof=none stdout prometheus"`
}

// Default returns the built-in configuration: local Ollama, resilience
// defaults, embedded packs and knowledge base, audit disabled.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: llm.Config{
			Provider: llm.ProviderOllama,
			Timeouts: llm.DefaultTimeouts(),
			AppName:  "AleutianTriage",
		},
		Sampling:   compose.Options{Temperature: float32Ptr(0), TopP: float32Ptr(1)},
		Resilience: resilience.DefaultConfig(),
		Egress:     egress.DefaultConfig(),
		Retrieval:  RetrievalConfig{Enabled: true, TopK: 3, Timeout: 2 * time.Second},
		Audit:      audit.Config{Path: "data/audit", Retention: audit.DefaultRetention},
		Log:        LogConfig{Level: "info", Format: "auto"},
		API:        APIConfig{RatePerSecond: 5, Burst: 10, MaxBodyBytes: 64 << 10},
		Telemetry:  TelemetryConfig{Traces: "none", Metrics: "prometheus"},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load builds the configuration.
//
// Description:
//
//	Starts from Default(), overlays the YAML file at path (skipped when
//	path is empty), overlays TRIAGE_* environment variables, then
//	validates. Unknown YAML keys are rejected.
//
// Inputs:
//   - path: Optional YAML file.
//
// Outputs:
//   - Config: The validated configuration.
//   - error: Wraps ErrInvalidConfig on read, parse or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// applyEnv overlays environment variables on cfg.
func applyEnv(cfg *Config) {
	cfg.Server.Addr = envString("TRIAGE_ADDR", cfg.Server.Addr)

	cfg.LLM.Provider = strings.ToLower(envString("TRIAGE_LLM_PROVIDER", cfg.LLM.Provider))
	cfg.LLM.Model = envString("TRIAGE_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = envString("TRIAGE_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.Sampling.Model = envString("TRIAGE_LLM_MODEL", cfg.Sampling.Model)

	cfg.Resilience.MaxAttempts = envInt("TRIAGE_LLM_MAX_ATTEMPTS", cfg.Resilience.MaxAttempts)
	cfg.Resilience.RateLimit = envInt("TRIAGE_LLM_RATE_PER_MIN", cfg.Resilience.RateLimit)
	cfg.Resilience.CacheTTL = envDuration("TRIAGE_LLM_CACHE_TTL", cfg.Resilience.CacheTTL)
	cfg.Resilience.AttemptTimeout = envDuration("TRIAGE_LLM_ATTEMPT_TIMEOUT", cfg.Resilience.AttemptTimeout)

	cfg.Egress.LocalOnly = envBool("TRIAGE_LOCAL_ONLY", cfg.Egress.LocalOnly)
	cfg.Egress.Allow = envList("TRIAGE_EGRESS_ALLOWLIST", cfg.Egress.Allow)
	cfg.Egress.Deny = envList("TRIAGE_EGRESS_DENYLIST", cfg.Egress.Deny)
	for _, p := range llm.ValidProviders {
		if egress.IsLocal(p) {
			continue
		}
		key := "TRIAGE_CONSENT_" + strings.ToUpper(p)
		if _, set := os.LookupEnv(key); set {
			if cfg.Egress.Consent == nil {
				cfg.Egress.Consent = make(map[string]bool)
			}
			cfg.Egress.Consent[p] = envBool(key, cfg.Egress.Consent[p])
		}
	}

	cfg.Packs.Dir = envString("TRIAGE_PACKS_DIR", cfg.Packs.Dir)
	cfg.Packs.Default = envString("TRIAGE_DEFAULT_PACK", cfg.Packs.Default)
	cfg.Packs.Watch = envBool("TRIAGE_PACKS_WATCH", cfg.Packs.Watch)

	cfg.Retrieval.Enabled = envBool("TRIAGE_RETRIEVAL_ENABLED", cfg.Retrieval.Enabled)

	cfg.Audit.Enabled = envBool("TRIAGE_AUDIT_ENABLED", cfg.Audit.Enabled)
	cfg.Audit.Path = envString("TRIAGE_AUDIT_PATH", cfg.Audit.Path)

	cfg.Log.Level = strings.ToLower(envString("TRIAGE_LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(envString("TRIAGE_LOG_FORMAT", cfg.Log.Format))

	cfg.API.RatePerSecond = envFloat("TRIAGE_API_RATE", cfg.API.RatePerSecond)

	cfg.Telemetry.Traces = strings.ToLower(envString("TRIAGE_TRACES", cfg.Telemetry.Traces))
	cfg.Telemetry.OTLPEndpoint = envString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.Metrics = strings.ToLower(envString("TRIAGE_METRICS", cfg.Telemetry.Metrics))
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func float32Ptr(v float32) *float32 { return &v }
