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
	"fmt"
)

// MockClient is a deterministic offline Generator.
//
// Description:
//
//	The prompt must be a JSON object carrying
//	"vocabulary": {"probable_causes": [...], "recommended_actions": [...]}
//	and optionally "triggered_red_flags": [...]. The reply picks the first
//	entry of each vocabulary list, so it always stays inside the allow-lists.
//	Used for demos, local development and tests; never calls the network.
//
// Thread Safety: MockClient is safe for concurrent use.
type MockClient struct{}

// NewMockClient returns a MockClient.
func NewMockClient() *MockClient { return &MockClient{} }

// Provider implements Generator.
func (m *MockClient) Provider() string { return ProviderMock }

type mockPrompt struct {
	Vocabulary struct {
		ProbableCauses     []string `json:"probable_causes"`
		RecommendedActions []string `json:"recommended_actions"`
	} `json:"vocabulary"`
	TriggeredRedFlags []string `json:"triggered_red_flags"`
}

type mockItem struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

type mockReply struct {
	RedFlags             []mockItem `json:"red_flags"`
	ProbableCauses       []mockItem `json:"probable_causes"`
	RecommendedActions   []mockItem `json:"recommended_actions"`
	Priority             string     `json:"priority"`
	Disposition          string     `json:"disposition"`
	DispositionRationale string     `json:"disposition_rationale"`
}

// Generate implements Generator.
func (m *MockClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("mock: %w", err)
	}
	var p mockPrompt
	if err := json.Unmarshal([]byte(req.Prompt), &p); err != nil {
		return "", fmt.Errorf("mock: prompt is not JSON: %w", err)
	}
	if len(p.Vocabulary.ProbableCauses) == 0 || len(p.Vocabulary.RecommendedActions) == 0 {
		return "", fmt.Errorf("mock: prompt carries no vocabulary: %w", ErrEmptyResponse)
	}

	reply := mockReply{
		RedFlags: []mockItem{},
		ProbableCauses: []mockItem{{
			Label:      p.Vocabulary.ProbableCauses[0],
			Confidence: 0.8,
		}},
		RecommendedActions: []mockItem{{
			Label:      p.Vocabulary.RecommendedActions[0],
			Confidence: 0.9,
		}},
		Priority:             "urgent",
		Disposition:          "Clinic same day",
		DispositionRationale: "Resposta determinística do gerador offline.",
	}
	for _, f := range p.TriggeredRedFlags {
		reply.RedFlags = append(reply.RedFlags, mockItem{Label: f, Confidence: 0.5})
	}
	if len(reply.RedFlags) > 0 {
		reply.Priority = "emergent"
		reply.Disposition = "ER"
	}

	out, err := json.Marshal(reply)
	if err != nil {
		return "", fmt.Errorf("mock: marshaling reply: %w", err)
	}
	return string(out), nil
}
