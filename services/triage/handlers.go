// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package triage exposes the triage pipeline over HTTP.
package triage

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianTriage/services/triage/audit"
	"github.com/AleutianAI/AleutianTriage/services/triage/orchestrator"
	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/resilience"
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

// RequestIDHeader carries the caller's correlation id.
const RequestIDHeader = "X-Request-ID"

// =============================================================================
// Collaborators
// =============================================================================

// Triager runs the pipeline.
type Triager interface {
	Triage(ctx context.Context, in schema.Intake, requestID string) (orchestrator.Result, error)
	BreakerState() resilience.State
}

// PackCatalog lists and loads packs.
type PackCatalog interface {
	IDs() ([]string, error)
	Load(ctx context.Context, id string) (*packs.Pack, error)
}

// AuditReader reads stored triage records.
type AuditReader interface {
	Get(ctx context.Context, id string) (audit.Record, error)
	List(ctx context.Context, limit int) ([]audit.Record, error)
}

// =============================================================================
// Response Types
// =============================================================================

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// PackSummary describes one pack.
type PackSummary struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	Locales     []schema.Locale `json:"locales"`
	Causes      []string        `json:"probable_causes"`
	Actions     []string        `json:"recommended_actions"`
	RedFlags    []string        `json:"red_flags"`
	Scores      []string        `json:"scores"`
	Rules       int             `json:"rules"`
	Fallback    packs.Fallback  `json:"fallback"`
	BannedTerms int             `json:"banned_terms"`
}

// PacksResponse lists available packs.
type PacksResponse struct {
	Packs  []PackSummary `json:"packs"`
	Errors []string      `json:"errors,omitempty"`
}

// RecordsResponse lists stored triage records.
type RecordsResponse struct {
	Records []audit.Record `json:"records"`
}

// HealthResponse reports service status.
type HealthResponse struct {
	Status  string `json:"status"`
	Breaker string `json:"breaker"`
	Audit   bool   `json:"audit"`
	Version string `json:"version"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers serves the triage API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	triager Triager
	packs   PackCatalog
	audit   AuditReader
	logger  *slog.Logger
}

// HandlerOption customizes Handlers.
type HandlerOption func(*Handlers)

// WithAuditReader enables GET /v1/triage and GET /v1/triage/:id.
func WithAuditReader(r AuditReader) HandlerOption {
	return func(h *Handlers) { h.audit = r }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandlers creates the API handlers.
func NewHandlers(t Triager, catalog PackCatalog, opts ...HandlerOption) *Handlers {
	h := &Handlers{triager: t, packs: catalog, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleTriage handles POST /v1/triage.
//
// Description:
//
//	Decodes an intake, validates it and runs the pipeline. Generation
//	problems never fail the request: they surface as a fallback output with
//	metadata explaining why.
//
// Response:
//
//	200 OK: orchestrator.Result
//	400 Bad Request: Malformed JSON or invalid intake
//	422 Unprocessable Entity: Unknown or invalid pack
//	500 Internal Server Error: Anything else
func (h *Handlers) HandleTriage(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleTriage"))

	var in schema.Intake
	if err := c.ShouldBindJSON(&in); err != nil {
		logger.Info("rejected malformed intake", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "request body is not a valid intake document",
			Code:      "INVALID_JSON",
			RequestID: requestID,
		})
		return
	}
	if err := in.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     err.Error(),
			Code:      "INVALID_INTAKE",
			RequestID: requestID,
		})
		return
	}

	res, err := h.triager.Triage(c.Request.Context(), in, requestID)
	if err != nil {
		status, code := statusForError(err)
		logger.Warn("triage failed", slog.String("error", err.Error()), slog.Int("status", status))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, RequestID: requestID})
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleGetTriage handles GET /v1/triage/:id.
//
// Response:
//
//	200 OK: audit.Record
//	404 Not Found: Unknown or expired record
//	501 Not Implemented: Audit store disabled
func (h *Handlers) HandleGetTriage(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	if h.audit == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error:     "audit store is disabled",
			Code:      "AUDIT_DISABLED",
			RequestID: requestID,
		})
		return
	}
	rec, err := h.audit.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, audit.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND", RequestID: requestID})
	case err != nil:
		h.logger.Error("audit read failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "audit read failed", Code: "INTERNAL", RequestID: requestID})
	default:
		c.JSON(http.StatusOK, rec)
	}
}

// maxListLimit caps the number of records returned by HandleListTriage.
const maxListLimit = 500

// HandleListTriage handles GET /v1/triage?limit=N.
//
// Response:
//
//	200 OK: RecordsResponse, newest first
//	400 Bad Request: limit is not a positive integer
//	501 Not Implemented: Audit store disabled
func (h *Handlers) HandleListTriage(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	if h.audit == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error:     "audit store is disabled",
			Code:      "AUDIT_DISABLED",
			RequestID: requestID,
		})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:     "limit must be a positive integer",
				Code:      "INVALID_LIMIT",
				RequestID: requestID,
			})
			return
		}
		limit = min(n, maxListLimit)
	}
	recs, err := h.audit.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("audit list failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "audit read failed", Code: "INTERNAL", RequestID: requestID})
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	c.JSON(http.StatusOK, RecordsResponse{Records: recs})
}

// HandleListPacks handles GET /v1/packs. Packs that fail to load are
// reported in Errors rather than failing the listing.
func (h *Handlers) HandleListPacks(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	ids, err := h.packs.IDs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL", RequestID: requestID})
		return
	}
	resp := PacksResponse{Packs: make([]PackSummary, 0, len(ids))}
	for _, id := range ids {
		p, err := h.packs.Load(c.Request.Context(), id)
		if err != nil {
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		resp.Packs = append(resp.Packs, summarize(p))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleGetPack handles GET /v1/packs/:id.
func (h *Handlers) HandleGetPack(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	p, err := h.packs.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := statusForError(err)
		if errors.Is(err, packs.ErrPackNotFound) {
			status, code = http.StatusNotFound, "PACK_NOT_FOUND"
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, RequestID: requestID})
		return
	}
	c.JSON(http.StatusOK, summarize(p))
}

// HandleHealth handles GET /v1/health. The service is degraded, not down,
// while the circuit is not closed: requests still receive fallback outputs.
func (h *Handlers) HandleHealth(c *gin.Context) {
	state := h.triager.BreakerState()
	status := "healthy"
	if state != resilience.StateClosed {
		status = "degraded"
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:  status,
		Breaker: state.String(),
		Audit:   h.audit != nil,
		Version: schema.TriageVersion,
	})
}

// statusForError maps pipeline errors onto HTTP status codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, packs.ErrPackNotFound):
		return http.StatusUnprocessableEntity, "PACK_NOT_FOUND"
	case errors.Is(err, packs.ErrInvalidPack):
		return http.StatusUnprocessableEntity, "INVALID_PACK"
	case errors.Is(err, orchestrator.ErrNoPack):
		return http.StatusUnprocessableEntity, "NO_PACK"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func summarize(p *packs.Pack) PackSummary {
	return PackSummary{
		ID:          p.ID,
		Version:     p.Meta.Version,
		Locales:     p.Meta.Locales,
		Causes:      p.Vocab.ProbableCausesAllow,
		Actions:     p.Vocab.ActionsAllow,
		RedFlags:    p.RedFlags,
		Scores:      p.ScoreNames(),
		Rules:       len(p.Rules.DispositionOverrides),
		Fallback:    p.Fallback,
		BannedTerms: len(p.BannedTerms),
	}
}

// getOrCreateRequestID returns the caller's X-Request-ID or a new UUID, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	c.Header(RequestIDHeader, id)
	return id
}
