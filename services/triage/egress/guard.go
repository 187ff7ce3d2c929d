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
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianTriage/services/llm"
)

// Guard wraps an llm.Generator with egress checks.
//
// Description:
//
//	Every request is checked against the Policy before it reaches the inner
//	generator. Requests to cloud providers have patient identifiers
//	redacted from the prompt when configured. Each decision is logged with
//	a SHA-256 content hash instead of the content itself.
//
// Thread Safety: Safe for concurrent use.
type Guard struct {
	inner    llm.Generator
	policy   *Policy
	redact   bool
	provider string
	logger   *slog.Logger
}

// NewGuard wraps inner. A nil logger defaults to slog.Default().
func NewGuard(inner llm.Generator, cfg Config, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		inner:    inner,
		policy:   NewPolicy(cfg),
		redact:   cfg.RedactIdentifiers,
		provider: strings.ToLower(inner.Provider()),
		logger:   logger,
	}
}

// Provider implements llm.Generator.
func (g *Guard) Provider() string { return g.inner.Provider() }

// Generate implements llm.Generator.
//
// Outputs:
//   - string: The inner generator's reply.
//   - error: A wrapped ErrLocalOnly, ErrProviderDenied or ErrNoConsent when
//     refused (the inner generator is not called), or the inner error.
func (g *Guard) Generate(ctx context.Context, req llm.Request) (string, error) {
	ctx, span := otel.Tracer("aleutian.triage").Start(ctx, "egress.Guard.Generate",
		oteltrace.WithAttributes(
			attribute.String("provider", g.provider),
			attribute.Bool("local", IsLocal(g.provider)),
		),
	)
	defer span.End()

	hash := contentHash(req.System, req.Prompt)
	if blockedBy, err := g.policy.Check(g.provider); err != nil {
		recordDecision(g.provider, blockedBy)
		g.logger.Warn("egress blocked",
			slog.String("provider", g.provider),
			slog.String("blocked_by", blockedBy),
			slog.String("content_hash", hash),
		)
		span.SetAttributes(attribute.String("blocked_by", blockedBy))
		span.SetStatus(codes.Error, blockedBy)
		return "", err
	}

	if g.redact && !IsLocal(g.provider) {
		var n int
		req.Prompt, n = llm.RedactIdentifiers(req.Prompt)
		recordRedactions(g.provider, n)
		span.SetAttributes(attribute.Int("redactions", n))
	}

	recordDecision(g.provider, "allowed")
	g.logger.Debug("egress allowed",
		slog.String("provider", g.provider),
		slog.String("content_hash", hash),
	)

	text, err := g.inner.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", err
	}
	span.SetStatus(codes.Ok, "")
	return text, nil
}

// contentHash is the hex SHA-256 of the outbound text, for audit logs.
func contentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
