// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/services/llm"
)

type recordingGenerator struct {
	provider string
	prompts  []string
}

func (r *recordingGenerator) Provider() string { return r.provider }

func (r *recordingGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	r.prompts = append(r.prompts, req.Prompt)
	return "{}", nil
}

func TestPolicy_Check(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		provider  string
		blockedBy string
		sentinel  error
	}{
		{"local always passes", Config{LocalOnly: true}, llm.ProviderOllama, "", nil},
		{"mock always passes", Config{LocalOnly: true}, llm.ProviderMock, "", nil},
		{"local only blocks cloud", Config{LocalOnly: true, Consent: map[string]bool{"openai": true}}, llm.ProviderOpenAI, "local_only", ErrLocalOnly},
		{"deny wins over consent", Config{Deny: []string{"OpenAI"}, Consent: map[string]bool{"openai": true}}, llm.ProviderOpenAI, "policy", ErrProviderDenied},
		{"allow list excludes", Config{Allow: []string{"openrouter"}, Consent: map[string]bool{"openai": true}}, llm.ProviderOpenAI, "policy", ErrProviderDenied},
		{"consent required", Config{}, llm.ProviderOpenRouter, "consent", ErrNoConsent},
		{"consented cloud passes", Config{Consent: map[string]bool{"OPENROUTER": true}}, llm.ProviderOpenRouter, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blockedBy, err := NewPolicy(tt.cfg).Check(tt.provider)
			assert.Equal(t, tt.blockedBy, blockedBy)
			if tt.sentinel == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.sentinel)
			assert.ErrorIs(t, err, llm.ErrPolicyBlocked)
			assert.True(t, IsBlocked(err))
		})
	}
}

func TestGuard_BlockedRequestNeverReachesProvider(t *testing.T) {
	inner := &recordingGenerator{provider: llm.ProviderOpenAI}
	g := NewGuard(inner, Config{LocalOnly: true}, nil)

	_, err := g.Generate(context.Background(), llm.Request{Prompt: "dor no peito"})
	require.ErrorIs(t, err, ErrLocalOnly)
	assert.Empty(t, inner.prompts)
	assert.Equal(t, llm.ProviderOpenAI, g.Provider())
}

func TestGuard_RedactsIdentifiersForCloudOnly(t *testing.T) {
	prompt := `{"complaint":"dor no peito, CPF 123.456.789-09"}`

	cloud := &recordingGenerator{provider: llm.ProviderOpenRouter}
	cfg := Config{Consent: map[string]bool{"openrouter": true}, RedactIdentifiers: true}
	_, err := NewGuard(cloud, cfg, nil).Generate(context.Background(), llm.Request{Prompt: prompt})
	require.NoError(t, err)
	require.Len(t, cloud.prompts, 1)
	assert.NotContains(t, cloud.prompts[0], "123.456.789-09")
	assert.Contains(t, cloud.prompts[0], "[REDACTED:cpf]")

	local := &recordingGenerator{provider: llm.ProviderOllama}
	_, err = NewGuard(local, cfg, nil).Generate(context.Background(), llm.Request{Prompt: prompt})
	require.NoError(t, err)
	assert.Equal(t, prompt, local.prompts[0], "local providers see the prompt unchanged")
}

func TestContentHash_SeparatesParts(t *testing.T) {
	assert.NotEqual(t, contentHash("ab", "c"), contentHash("a", "bc"))
	assert.Len(t, contentHash("x"), 64)
}
