// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/services/triage/audit"
	"github.com/AleutianAI/AleutianTriage/services/triage/orchestrator"
	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/resilience"
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockTriager implements Triager for testing.
type MockTriager struct {
	triageFunc func(ctx context.Context, in schema.Intake, requestID string) (orchestrator.Result, error)
	state      resilience.State
	calls      int
}

func (m *MockTriager) Triage(ctx context.Context, in schema.Intake, requestID string) (orchestrator.Result, error) {
	m.calls++
	if m.triageFunc != nil {
		return m.triageFunc(ctx, in, requestID)
	}
	return orchestrator.Result{
		Output:   schema.Output{Priority: schema.PriorityUrgent, Disposition: schema.DispositionClinicSameDay},
		Metadata: orchestrator.Metadata{RequestID: requestID, PackID: "chest_pain"},
	}, nil
}

func (m *MockTriager) BreakerState() resilience.State { return m.state }

type mapAudit map[string]audit.Record

func (m mapAudit) Get(_ context.Context, id string) (audit.Record, error) {
	rec, ok := m[id]
	if !ok {
		return audit.Record{}, fmt.Errorf("get %q: %w", id, audit.ErrNotFound)
	}
	return rec, nil
}

func (m mapAudit) List(_ context.Context, limit int) ([]audit.Record, error) {
	out := make([]audit.Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func setupTestRouter(h *Handlers, cfg RouterConfig) *gin.Engine {
	return NewRouter(h, cfg)
}

func postJSON(t *testing.T, r http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleTriage_Success(t *testing.T) {
	mock := &MockTriager{}
	r := setupTestRouter(NewHandlers(mock, packs.NewLoader(packs.Embedded(), nil)), RouterConfig{})

	w := postJSON(t, r, "/v1/triage", `{"complaint":"dor no peito","vitals":{"hr":88}}`,
		map[string]string{RequestIDHeader: "abc-123"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	var res orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "abc-123", res.Metadata.RequestID)
	assert.Equal(t, schema.PriorityUrgent, res.Output.Priority)
}

func TestHandleTriage_BadRequests(t *testing.T) {
	mock := &MockTriager{}
	r := setupTestRouter(NewHandlers(mock, packs.NewLoader(packs.Embedded(), nil)), RouterConfig{MaxBodyBytes: 1024})

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"complaint":`, "INVALID_JSON"},
		{"missing complaint", `{"age":40}`, "INVALID_INTAKE"},
		{"age out of range", `{"complaint":"febre","age":200}`, "INVALID_INTAKE"},
		{"oversized body", `{"complaint":"` + strings.Repeat("a", 2048) + `"}`, "INVALID_JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, r, "/v1/triage", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
	assert.Equal(t, 0, mock.calls)
}

func TestHandleTriage_PackErrorsAreUnprocessable(t *testing.T) {
	mock := &MockTriager{triageFunc: func(context.Context, schema.Intake, string) (orchestrator.Result, error) {
		return orchestrator.Result{}, fmt.Errorf("orchestrator: packs: %q: %w", "nope", packs.ErrPackNotFound)
	}}
	r := setupTestRouter(NewHandlers(mock, packs.NewLoader(packs.Embedded(), nil)), RouterConfig{})

	w := postJSON(t, r, "/v1/triage", `{"complaint":"dor","pack_id":"nope"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "PACK_NOT_FOUND", decodeError(t, w).Code)
}

func TestHandleTriage_AdmissionLimit(t *testing.T) {
	mock := &MockTriager{}
	r := setupTestRouter(NewHandlers(mock, packs.NewLoader(packs.Embedded(), nil)),
		RouterConfig{RatePerSecond: 0.001, Burst: 2})

	body := `{"complaint":"febre alta"}`
	assert.Equal(t, http.StatusOK, postJSON(t, r, "/v1/triage", body, nil).Code)
	assert.Equal(t, http.StatusOK, postJSON(t, r, "/v1/triage", body, nil).Code)

	w := postJSON(t, r, "/v1/triage", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeError(t, w).Code)
	assert.Equal(t, 2, mock.calls)

	assert.Equal(t, http.StatusOK, get(r, "/v1/health").Code, "only triage is limited")
}

func TestHandleGetTriage(t *testing.T) {
	store := mapAudit{"rec-1": {ID: "rec-1", PackID: "fever", CreatedAt: time.Now()}}
	loader := packs.NewLoader(packs.Embedded(), nil)

	r := setupTestRouter(NewHandlers(&MockTriager{}, loader, WithAuditReader(store)), RouterConfig{})
	w := get(r, "/v1/triage/rec-1")
	require.Equal(t, http.StatusOK, w.Code)
	var rec audit.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "fever", rec.PackID)

	assert.Equal(t, http.StatusNotFound, get(r, "/v1/triage/missing").Code)

	disabled := setupTestRouter(NewHandlers(&MockTriager{}, loader), RouterConfig{})
	assert.Equal(t, http.StatusNotImplemented, get(disabled, "/v1/triage/rec-1").Code)
}

func TestHandleListTriage(t *testing.T) {
	now := time.Now()
	store := mapAudit{
		"old": {ID: "old", PackID: "fever", CreatedAt: now.Add(-time.Hour)},
		"new": {ID: "new", PackID: "chest_pain", CreatedAt: now},
	}
	loader := packs.NewLoader(packs.Embedded(), nil)
	r := setupTestRouter(NewHandlers(&MockTriager{}, loader, WithAuditReader(store)), RouterConfig{})

	w := get(r, "/v1/triage?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	var resp RecordsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "new", resp.Records[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(r, "/v1/triage?limit=-3").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/v1/triage?limit=abc").Code)

	disabled := setupTestRouter(NewHandlers(&MockTriager{}, loader), RouterConfig{})
	assert.Equal(t, http.StatusNotImplemented, get(disabled, "/v1/triage").Code)
}

func TestHandlePacks(t *testing.T) {
	r := setupTestRouter(NewHandlers(&MockTriager{}, packs.NewLoader(packs.Embedded(), nil)), RouterConfig{})

	w := get(r, "/v1/packs")
	require.Equal(t, http.StatusOK, w.Code)
	var list PacksResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	ids := make([]string, 0, len(list.Packs))
	for _, p := range list.Packs {
		ids = append(ids, p.ID)
	}
	assert.Contains(t, ids, "chest_pain")
	assert.Empty(t, list.Errors)

	w = get(r, "/v1/packs/chest_pain")
	require.Equal(t, http.StatusOK, w.Code)
	var one PackSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, "1.2.0", one.Version)
	assert.Equal(t, schema.PriorityUrgent, one.Fallback.Priority)
	assert.Equal(t, 3, one.Rules)

	assert.Equal(t, http.StatusNotFound, get(r, "/v1/packs/unknown").Code)
}

func TestHandleHealth_DegradedWhenCircuitNotClosed(t *testing.T) {
	mock := &MockTriager{state: resilience.StateClosed}
	r := setupTestRouter(NewHandlers(mock, packs.NewLoader(packs.Embedded(), nil)), RouterConfig{})

	var health HealthResponse
	w := get(r, "/v1/health")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)

	mock.state = resilience.StateOpen
	w = get(r, "/v1/health")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "open", health.Breaker)
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupTestRouter(NewHandlers(&MockTriager{}, packs.NewLoader(packs.Embedded(), nil)), RouterConfig{})
	get(r, "/v1/health")

	w := get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("triage_http_requests_total")))
}

func TestClientLimiter_PerClient(t *testing.T) {
	cl := NewClientLimiter(1, 1)
	now := time.Now()

	ok, _ := cl.Reserve("10.0.0.1", now)
	assert.True(t, ok)
	ok, wait := cl.Reserve("10.0.0.1", now)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	ok, _ = cl.Reserve("10.0.0.2", now)
	assert.True(t, ok, "clients have independent buckets")

	ok, _ = cl.Reserve("10.0.0.1", now.Add(time.Second))
	assert.True(t, ok, "tokens refill over time")

	unlimited := NewClientLimiter(0, 0)
	for range 100 {
		ok, _ = unlimited.Reserve("x", now)
		require.True(t, ok)
	}
}
