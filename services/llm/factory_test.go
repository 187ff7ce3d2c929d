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
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewGenerator(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")

	tests := []struct {
		name     string
		cfg      Config
		wantErr  bool
		provider string
	}{
		{"mock", Config{Provider: "mock"}, false, ProviderMock},
		{"ollama case-insensitive", Config{Provider: " Ollama "}, false, ProviderOllama},
		{"openai without key", Config{Provider: "openai"}, true, ""},
		{"openrouter without key", Config{Provider: "openrouter"}, true, ""},
		{"unknown", Config{Provider: "anthropic"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGenerator(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if g.Provider() != tt.provider {
				t.Errorf("provider = %q, want %q", g.Provider(), tt.provider)
			}
		})
	}
}

func TestNewGenerator_KeysFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")

	g, err := NewGenerator(Config{Provider: "openai", Model: "gpt-4o"})
	if err != nil || g.Provider() != ProviderOpenAI {
		t.Fatalf("openai: %v, %v", g, err)
	}
	g, err = NewGenerator(Config{Provider: "openrouter", AppName: "Triage"})
	if err != nil || g.Provider() != ProviderOpenRouter {
		t.Fatalf("openrouter: %v, %v", g, err)
	}
}

func TestIsValidProvider(t *testing.T) {
	for _, p := range ValidProviders {
		if !IsValidProvider(p) {
			t.Errorf("%q should be valid", p)
		}
	}
	if IsValidProvider("gemini") {
		t.Error("gemini should not be valid")
	}
}

func TestMockClient_PicksFromVocabulary(t *testing.T) {
	prompt := `{"vocabulary":{"probable_causes":["Síndrome coronariana aguda","Dor musculoesquelética"],` +
		`"recommended_actions":["ECG em 10 minutos"]},"triggered_red_flags":["sudorese"]}`

	out, err := NewMockClient().Generate(context.Background(), Request{Prompt: prompt})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var reply mockReply
	if err := json.Unmarshal([]byte(out), &reply); err != nil {
		t.Fatalf("reply is not JSON: %v", err)
	}
	if len(reply.ProbableCauses) != 1 || reply.ProbableCauses[0].Label != "Síndrome coronariana aguda" {
		t.Errorf("causes = %+v", reply.ProbableCauses)
	}
	if len(reply.RecommendedActions) != 1 || reply.RecommendedActions[0].Label != "ECG em 10 minutos" {
		t.Errorf("actions = %+v", reply.RecommendedActions)
	}
	if len(reply.RedFlags) != 1 || reply.Priority != "emergent" || reply.Disposition != "ER" {
		t.Errorf("red flags should escalate: %+v", reply)
	}
}

func TestMockClient_RejectsPromptWithoutVocabulary(t *testing.T) {
	m := NewMockClient()
	if _, err := m.Generate(context.Background(), Request{Prompt: "not json"}); err == nil {
		t.Error("expected error for non-JSON prompt")
	}
	if _, err := m.Generate(context.Background(), Request{Prompt: `{"vocabulary":{}}`}); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestSealedKey(t *testing.T) {
	if NewSealedKey("") != nil {
		t.Error("empty key should yield nil")
	}
	var none *SealedKey
	if none.Set() {
		t.Error("nil key reports Set")
	}
	if err := none.WithKey(func(string) {}); err == nil {
		t.Error("nil key should error")
	}

	k := NewSealedKey("secret-value")
	var seen string
	if err := k.WithKey(func(key string) { seen = key }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "secret-value" {
		t.Errorf("key = %q", seen)
	}
}

func TestNewHTTPClient_Defaults(t *testing.T) {
	c := NewHTTPClient(Timeouts{Read: 5 * time.Second})
	def := DefaultTimeouts()
	if want := def.Connect + def.Write + 5*time.Second; c.Timeout != want {
		t.Errorf("timeout = %v, want %v", c.Timeout, want)
	}
}
