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
// OpenAI Wire Types
// =============================================================================

const (
	defaultOpenAIBaseURL     = "https://api.openai.com/v1/chat/completions"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenAIModel       = "gpt-4o-mini"
	defaultOpenRouterModel   = "meta-llama/llama-3.1-8b-instruct"
	defaultSchemaToolName    = "submit_output"
)

type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	Temperature         *float32        `json:"temperature,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	TopP                *float32        `json:"top_p,omitempty"`
	Tools               []openaiTool    `json:"tools,omitempty"`
	ToolChoice          any             `json:"tool_choice,omitempty"`
}

type openaiMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Choices []openaiChoice `json:"choices"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiToolChoice struct {
	Type     string                 `json:"type"`
	Function openaiToolChoiceTarget `json:"function"`
}

type openaiToolChoiceTarget struct {
	Name string `json:"name"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiCallFunction `json:"function"`
}

type openaiCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself and OpenRouter) using raw net/http.
//
// Description:
//
//	When the request carries a JSON Schema, the schema is offered as a single
//	forced function tool and the tool-call arguments are returned as the
//	generated text. Providers that ignore tools answer in message content,
//	which is returned instead.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	httpClient *http.Client
	key        *SealedKey
	model      string
	baseURL    string
	provider   string

	// headers are sent on every request in addition to auth and content type.
	headers map[string]string
}

// NewOpenAIClientWithConfig creates an OpenAIClient with explicit configuration.
//
// Inputs:
//   - apiKey: The API key. Sealed immediately; may be empty for keyless
//     local gateways.
//   - model: The default model name (e.g., "gpt-4o").
//   - baseURL: The full chat completions URL. Empty selects api.openai.com.
//
// Outputs:
//   - *OpenAIClient: The configured client.
func NewOpenAIClientWithConfig(apiKey, model, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		httpClient: NewHTTPClient(DefaultTimeouts()),
		key:        NewSealedKey(apiKey),
		model:      model,
		baseURL:    baseURL,
		provider:   ProviderOpenAI,
	}
}

// NewOpenAIClient creates a new OpenAIClient from environment variables.
//
// Description:
//
//	Reads OPENAI_API_KEY and OPENAI_MODEL from the environment.
//	Defaults to "gpt-4o-mini" if OPENAI_MODEL is not set.
//
// Outputs:
//   - *OpenAIClient: The configured client.
//   - error: Non-nil if OPENAI_API_KEY is missing.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		slog.Warn("OpenAI API Key is empty. OpenAI Client will not function.")
		return nil, fmt.Errorf("openai: API key is missing (OPENAI_API_KEY)")
	}
	if model == "" {
		slog.Warn("OPENAI_MODEL not set, defaulting to " + defaultOpenAIModel)
	}
	slog.Info("Initializing OpenAI client", slog.String("model", model))
	return NewOpenAIClientWithConfig(apiKey, model, ""), nil
}

// NewOpenRouterClient creates an OpenAIClient pointed at OpenRouter.
//
// Inputs:
//   - apiKey: The OpenRouter API key (sk-or-...). Required.
//   - model: The routed model id (e.g., "openai/gpt-4o-mini").
//   - baseURL: Override for the chat completions URL. Empty selects openrouter.ai.
//   - referer, title: Optional attribution headers OpenRouter shows in its
//     dashboard.
//
// Outputs:
//   - *OpenAIClient: The configured client.
//   - error: Non-nil if apiKey is empty.
func NewOpenRouterClient(apiKey, model, baseURL, referer, title string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter: API key is missing (OPENROUTER_API_KEY)")
	}
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	if model == "" {
		model = defaultOpenRouterModel
	}
	c := NewOpenAIClientWithConfig(apiKey, model, baseURL)
	c.provider = ProviderOpenRouter
	c.headers = map[string]string{}
	if referer != "" {
		c.headers["HTTP-Referer"] = referer
	}
	if title != "" {
		c.headers["X-Title"] = title
	}
	return c, nil
}

// WithHTTPClient replaces the underlying HTTP client.
func (o *OpenAIClient) WithHTTPClient(hc *http.Client) *OpenAIClient {
	o.httpClient = hc
	return o
}

// Provider implements Generator.
func (o *OpenAIClient) Provider() string { return o.provider }

// Generate implements Generator using the chat completions API.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - req: Prompt, optional system instruction, sampling knobs and schema.
//
// Outputs:
//   - string: Tool-call arguments when a schema was offered and used,
//     otherwise the assistant message content.
//   - error: *StatusError (wrapped) on non-2xx, ErrEmptyResponse when the
//     reply carries no text, transport errors otherwise.
//
// Thread Safety: This method is safe for concurrent use.
func (o *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	model := o.model
	if req.Model != "" {
		model = req.Model
	}
	slog.Debug("Generating text via OpenAI-compatible API",
		slog.String("provider", o.provider),
		slog.String("model", model),
	)

	messages := make([]openaiMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: req.Prompt})

	payload := openaiRequest{
		Model:               model,
		Messages:            messages,
		Temperature:         req.Temperature,
		TopP:                req.TopP,
		MaxCompletionTokens: req.MaxTokens,
	}
	toolName := ""
	if req.Schema != nil {
		toolName = req.SchemaName
		if toolName == "" {
			toolName = defaultSchemaToolName
		}
		payload.Tools = []openaiTool{{
			Type: "function",
			Function: openaiFunction{
				Name:        toolName,
				Description: "Submit the structured answer.",
				Parameters:  req.Schema,
			},
		}}
		payload.ToolChoice = openaiToolChoice{
			Type:     "function",
			Function: openaiToolChoiceTarget{Name: toolName},
		}
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%s: marshaling request: %w", o.provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("%s: creating HTTP request: %w", o.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range o.headers {
		httpReq.Header.Set(k, v)
	}
	if o.key.Set() {
		if err := o.key.WithKey(func(key string) {
			httpReq.Header.Set("Authorization", "Bearer "+key)
		}); err != nil {
			return "", fmt.Errorf("%s: %w", o.provider, err)
		}
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s: HTTP request failed: %w", o.provider, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: reading response body: %w", o.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newStatusError(o.provider, resp.StatusCode, bodyBytes)
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("%s: parsing response JSON: %w", o.provider, err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("%s: API error: %s - %s", o.provider, apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("%s: returned no choices: %w", o.provider, ErrEmptyResponse)
	}

	choice := apiResp.Choices[0]
	slog.Debug("Received OpenAI-compatible response",
		slog.String("provider", o.provider),
		slog.String("finish_reason", choice.FinishReason),
		slog.Int("tool_calls", len(choice.Message.ToolCalls)),
	)

	for _, tc := range choice.Message.ToolCalls {
		if toolName != "" && tc.Function.Name != toolName {
			continue
		}
		if args := strings.TrimSpace(tc.Function.Arguments); args != "" {
			return args, nil
		}
	}
	if text := strings.TrimSpace(choice.Message.Content); text != "" {
		return text, nil
	}
	return "", fmt.Errorf("%s: %w", o.provider, ErrEmptyResponse)
}
