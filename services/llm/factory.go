// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Provider constants for supported generation backends.
const (
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderMock       = "mock"
)

// ValidProviders contains the set of valid provider names.
var ValidProviders = []string{ProviderOllama, ProviderOpenAI, ProviderOpenRouter, ProviderMock}

// Config selects and configures one Generator.
type Config struct {
	// Provider is one of ValidProviders.
	Provider string `yaml:"provider" validate:"required,oneof=ollama openai openrouter mock"`

	// Model is the provider-specific default model.
	// Examples: "llama3.1:8b" (Ollama), "gpt-4o-mini" (OpenAI).
	Model string `yaml:"model"`

	// BaseURL overrides the provider endpoint. For Ollama it is the server
	// root; for OpenAI-compatible providers the full chat completions URL.
	BaseURL string `yaml:"base_url"`

	// Timeouts bounds the HTTP exchange.
	Timeouts Timeouts `yaml:"timeouts"`

	// AppURL and AppName are sent to OpenRouter as attribution headers.
	AppURL  string `yaml:"app_url"`
	AppName string `yaml:"app_name"`
}

// NewGenerator builds the Generator named by cfg.Provider.
//
// Description:
//
//	API keys are never read from cfg; they come from OPENAI_API_KEY and
//	OPENROUTER_API_KEY and are sealed in guarded memory by the client.
//
// Outputs:
//   - Generator: The configured client.
//   - error: Non-nil for an unknown provider or a missing required key.
func NewGenerator(cfg Config) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	hc := NewHTTPClient(cfg.Timeouts)

	switch provider {
	case ProviderOllama:
		return NewOllamaClientWithConfig(cfg.Model, cfg.BaseURL).WithHTTPClient(hc), nil

	case ProviderOpenAI:
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY required for OpenAI provider")
		}
		return NewOpenAIClientWithConfig(key, cfg.Model, cfg.BaseURL).WithHTTPClient(hc), nil

	case ProviderOpenRouter:
		c, err := NewOpenRouterClient(os.Getenv("OPENROUTER_API_KEY"), cfg.Model, cfg.BaseURL, cfg.AppURL, cfg.AppName)
		if err != nil {
			return nil, err
		}
		return c.WithHTTPClient(hc), nil

	case ProviderMock:
		slog.Info("Using offline mock generator")
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %q (valid: %v)", cfg.Provider, ValidProviders)
	}
}

// IsValidProvider reports whether name is a supported provider.
func IsValidProvider(name string) bool {
	return slices.Contains(ValidProviders, strings.ToLower(name))
}
