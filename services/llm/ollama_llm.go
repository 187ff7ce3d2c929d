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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// =============================================================================
// Ollama Wire Types
// =============================================================================

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3.1:8b"
)

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  any            `json:"format,omitempty"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OllamaClient calls a local Ollama server's /api/generate endpoint with
// streaming disabled.
//
// Description:
//
//	A request schema is passed as Ollama's "format" field, which constrains
//	decoding to JSON matching the schema on servers that support it.
//
// Thread Safety: OllamaClient is safe for concurrent use.
type OllamaClient struct {
	httpClient *http.Client
	model      string
	baseURL    string
}

// NewOllamaClientWithConfig creates an OllamaClient.
//
// Inputs:
//   - model: Default model tag. Empty selects "llama3.1:8b".
//   - baseURL: Server root (no path). Empty resolves OLLAMA_BASE_URL, then
//     http://localhost:11434.
func NewOllamaClientWithConfig(model, baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = ResolveOllamaURL()
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaClient{
		httpClient: NewHTTPClient(DefaultTimeouts()),
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// ResolveOllamaURL returns OLLAMA_BASE_URL when set, otherwise the local
// default.
func ResolveOllamaURL() string {
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		return url
	}
	return defaultOllamaBaseURL
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *OllamaClient) WithHTTPClient(hc *http.Client) *OllamaClient {
	c.httpClient = hc
	return c
}

// Provider implements Generator.
func (c *OllamaClient) Provider() string { return ProviderOllama }

// Generate implements Generator.
//
// Outputs:
//   - string: The "response" field of the reply.
//   - error: *StatusError on non-2xx, ErrEmptyResponse when "response" is
//     blank.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	payload := ollamaGenerateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
	}
	if req.Schema != nil {
		payload.Format = req.Schema
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil {
		payload.Options = &ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
		}
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ollama: marshaling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("ollama: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("Sending request to Ollama", slog.String("model", model), slog.String("base_url", c.baseURL))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama: reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newStatusError(ProviderOllama, resp.StatusCode, bodyBytes)
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return "", fmt.Errorf("ollama: parsing response JSON: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: API error: %s", SafeLogString(out.Error))
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return text, nil
}
