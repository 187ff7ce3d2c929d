// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm contains raw net/http clients for the text-generation
// providers used by the triage pipeline (Ollama, OpenAI, OpenRouter) plus a
// deterministic offline generator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Generator Contract
// =============================================================================

// Request is one text-generation call.
type Request struct {
	// Prompt is the user message.
	Prompt string

	// System is the system instruction. May be empty.
	System string

	// Model overrides the client's default model when non-empty.
	Model string

	// Temperature and TopP are passed through when non-nil.
	Temperature *float32
	TopP        *float32

	// MaxTokens caps the completion length when non-nil.
	MaxTokens *int

	// Schema is an optional JSON Schema the output must follow. Providers
	// that support structured output receive it; others ignore it.
	Schema map[string]any

	// SchemaName names Schema for providers that require a name.
	SchemaName string
}

// Generator produces text from a prompt.
//
// Implementations return an error wrapping *StatusError for non-2xx HTTP
// responses and ErrEmptyResponse when the provider answers without text.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)

	// Provider returns the provider name for logs and metrics.
	Provider() string
}

// ErrEmptyResponse is returned when a provider reply carries no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrPolicyBlocked is wrapped by errors that refuse a request before it is
// sent. Such a request must not be retried.
var ErrPolicyBlocked = errors.New("llm: request blocked by policy")

// StatusError is a non-2xx HTTP reply from a provider.
type StatusError struct {
	Provider   string
	StatusCode int

	// Body is the redacted response body.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: API returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status is transient.
func (e *StatusError) Retryable() bool {
	return IsRetryableStatus(e.StatusCode)
}

// IsRetryableStatus reports whether an HTTP status is worth retrying:
// 408, 409, 429 and every 5xx.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code <= 599
}

func newStatusError(provider string, code int, body []byte) *StatusError {
	b := string(body)
	if len(b) > 512 {
		b = b[:512] + "..."
	}
	return &StatusError{Provider: provider, StatusCode: code, Body: SafeLogString(b)}
}
