// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/AleutianTriage/services/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/audit"
	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/resilience"
	"github.com/AleutianAI/AleutianTriage/services/triage/retrieval"
	"github.com/AleutianAI/AleutianTriage/services/triage/rules"
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
	"github.com/AleutianAI/AleutianTriage/services/triage/scores"
	"github.com/AleutianAI/AleutianTriage/services/triage/validation"
)

// countingGenerator delegates to reply and counts calls.
type countingGenerator struct {
	mu    sync.Mutex
	calls int
	reply func(req llm.Request) (string, error)
}

func (g *countingGenerator) Provider() string { return "fake" }

func (g *countingGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.reply(req)
}

func (g *countingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func mockReplies() *countingGenerator {
	mock := llm.NewMockClient()
	return &countingGenerator{reply: func(req llm.Request) (string, error) {
		return mock.Generate(context.Background(), req)
	}}
}

func fixedReply(text string, err error) *countingGenerator {
	return &countingGenerator{reply: func(llm.Request) (string, error) { return text, err }}
}

type stubSearcher struct {
	snippets []retrieval.Snippet
	err      error
}

func (s stubSearcher) Search(context.Context, string, int) ([]retrieval.Snippet, error) {
	return s.snippets, s.err
}

type memRecorder struct {
	mu   sync.Mutex
	recs []audit.Record
	err  error
}

func (r *memRecorder) Put(_ context.Context, rec audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return r.err
}

func noSleep(context.Context, time.Duration) error { return nil }

// testResilience is one attempt per call, no cache, no admission limit.
func testResilience() resilience.Config {
	return resilience.Config{
		MaxAttempts:      1,
		AttemptTimeout:   time.Second,
		BreakerThreshold: 3,
		BreakerCoolDown:  time.Hour,
	}
}

func newTestOrchestrator(t *testing.T, gen llm.Generator, mutate func(*Deps)) *Orchestrator {
	t.Helper()
	selector, err := packs.NewSelector(packs.Embedded(), "")
	require.NoError(t, err)
	registry := scores.NewRegistry(nil)
	require.NoError(t, scores.RegisterDefaults(registry))

	deps := Deps{
		Packs:     packs.NewLoader(packs.Embedded(), nil),
		Selector:  selector,
		Rules:     rules.NewEngine(nil),
		Scores:    registry,
		Generator: resilience.NewClient(gen, testResilience(), resilience.WithSleep(noSleep)),
		Validator: validation.NewValidator(nil),
	}
	if mutate != nil {
		mutate(&deps)
	}
	o, err := New(deps)
	require.NoError(t, err)
	return o
}

// quietChestPain matches no red flag and, without vitals, no override rule.
func quietChestPain() schema.Intake {
	return schema.Intake{
		Complaint: "dor no peito leve ao respirar fundo",
		Age:       schema.Int(34),
		Sex:       schema.SexFemale,
		PackID:    "chest_pain",
	}
}

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

// =============================================================================
// Tests
// =============================================================================

func TestTriage_OverrideRuleSkipsGeneration(t *testing.T) {
	gen := mockReplies()
	o := newTestOrchestrator(t, gen, nil)

	in := schema.Intake{
		Complaint: "dor no peito, sudorese fria",
		Age:       schema.Int(61),
		Sex:       schema.SexMale,
		Vitals: schema.Vitals{
			HR:   schema.Float(110),
			SBP:  schema.Float(88),
			SpO2: schema.Float(91),
		},
	}
	res, err := o.Triage(context.Background(), in, "req-1")
	require.NoError(t, err)

	assert.Equal(t, 0, gen.Calls(), "a matched rule never calls the model")
	assert.Equal(t, "chest_pain", res.Metadata.PackID)
	assert.True(t, res.Metadata.ShortCircuited)
	assert.False(t, res.Metadata.FallbackUsed)
	assert.Equal(t, "any_red_flag or spo2 < 92 or sbp < 90", res.Metadata.Rule)
	assert.Equal(t, []Stage{StageNormalizing, StageRuleCheck, StageShortCircuit, StageDone}, res.Metadata.Stages)
	assert.Equal(t, "rule", res.Metadata.Outcome())

	out := res.Output
	require.NoError(t, out.Validate())
	assert.Equal(t, schema.PriorityEmergent, out.Priority)
	assert.Equal(t, schema.DispositionER, out.Disposition)
	assert.Equal(t, "Regra: any_red_flag or spo2 < 92 or sbp < 90", out.DispositionRationale)

	require.Len(t, out.RedFlags, 1)
	assert.Equal(t, "sudorese", out.RedFlags[0].Label)
	assert.Equal(t, 1.0, *out.RedFlags[0].Confidence)
	assert.Equal(t, RuleRationale, out.RedFlags[0].Rationale)

	require.Len(t, out.ProbableCauses, 1)
	assert.Equal(t, "Síndrome coronariana aguda", out.ProbableCauses[0].Label)
	assert.NotEmpty(t, out.ProbableCauses[0].Codes)
	require.Len(t, out.RecommendedActions, 1)
	assert.Equal(t, "ECG em até 10 minutos", out.RecommendedActions[0].Label)
}

// fixedPack serves one pack regardless of id.
type fixedPack struct{ pack *packs.Pack }

func (f fixedPack) Load(context.Context, string) (*packs.Pack, error) { return f.pack, nil }

func TestTriage_InvalidRuleOutputFallsBack(t *testing.T) {
	base, err := packs.NewLoader(packs.Embedded(), nil).Load(context.Background(), "chest_pain")
	require.NoError(t, err)
	broken := *base
	broken.Codes.Conditions = map[string][]schema.Code{
		base.FirstCause(): {{System: "ICD-11", Code: "BA41"}},
	}

	gen := mockReplies()
	o := newTestOrchestrator(t, gen, func(d *Deps) { d.Packs = fixedPack{pack: &broken} })

	in := schema.Intake{
		Complaint: "dor no peito, sudorese fria",
		Vitals:    schema.Vitals{SpO2: schema.Float(89)},
	}
	res, err := o.Triage(context.Background(), in, "req-rule-fallback")
	require.NoError(t, err)

	assert.Equal(t, 0, gen.Calls())
	assert.True(t, res.Metadata.ShortCircuited)
	assert.True(t, res.Metadata.FallbackUsed)
	require.NotNil(t, res.Metadata.Validation)
	assert.NotEmpty(t, res.Metadata.Validation.Errors)

	out := res.Output
	require.NoError(t, out.Validate())
	assert.Equal(t, schema.PriorityEmergent, out.Priority, "the override decision survives the fallback")
	assert.Equal(t, schema.DispositionER, out.Disposition)
	assert.Equal(t, validation.FallbackRationale, out.DispositionRationale)
	require.Len(t, out.ProbableCauses, 1)
	assert.Empty(t, out.ProbableCauses[0].Codes, "invalid pack codes are left out of the fallback")
}

func TestTriage_ModelPathProducesValidatedOutput(t *testing.T) {
	gen := mockReplies()
	o := newTestOrchestrator(t, gen, nil)

	res, err := o.Triage(context.Background(), quietChestPain(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, gen.Calls())
	assert.NotEmpty(t, res.Metadata.RequestID, "a request id is generated when absent")
	assert.False(t, res.Metadata.ShortCircuited)
	assert.False(t, res.Metadata.FallbackUsed)
	assert.Empty(t, res.Metadata.GenerationError)
	assert.Equal(t, "closed", res.Metadata.BreakerState)
	assert.Equal(t, []Stage{
		StageNormalizing, StageRuleCheck, StageScoring, StageComposing,
		StageGenerating, StageValidating, StageDone,
	}, res.Metadata.Stages)
	require.NotNil(t, res.Metadata.Validation)
	assert.Equal(t, 1, res.Metadata.Validation.Attempts)

	out := res.Output
	require.NoError(t, out.Validate())
	assert.Equal(t, schema.PriorityUrgent, out.Priority)
	assert.Equal(t, schema.SexFemale, out.Patient.Sex)
	assert.Equal(t, "Síndrome coronariana aguda", out.ProbableCauses[0].Label)
	assert.NotNil(t, out.Scores)
}

func TestTriage_ThreeTimeoutsOpenTheCircuit(t *testing.T) {
	timeout := fmt.Errorf("fake: request failed: %w", context.DeadlineExceeded)
	gen := fixedReply("", timeout)
	o := newTestOrchestrator(t, gen, nil)

	for i := 1; i <= 3; i++ {
		res, err := o.Triage(context.Background(), quietChestPain(), "")
		require.NoError(t, err, "generation failures never reach the caller")
		assert.Equal(t, "timeout", res.Metadata.GenerationError, "call %d", i)
		assert.True(t, res.Metadata.FallbackUsed)
	}
	assert.Equal(t, 3, gen.Calls())
	assert.Equal(t, resilience.StateOpen, o.BreakerState())

	res, err := o.Triage(context.Background(), quietChestPain(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, gen.Calls(), "an open circuit makes no network attempt")
	assert.Equal(t, "circuit_open", res.Metadata.GenerationError)
	assert.Equal(t, "open", res.Metadata.BreakerState)
	assert.Equal(t, "fallback", res.Metadata.Outcome())

	out := res.Output
	require.NoError(t, out.Validate())
	assert.Equal(t, schema.PriorityUrgent, out.Priority)
	assert.Equal(t, validation.FallbackRationale, out.DispositionRationale)
	assert.Empty(t, out.RedFlags)
}

func TestTriage_UnparseableReplyFallsBack(t *testing.T) {
	o := newTestOrchestrator(t, fixedReply("não consigo responder agora", nil), nil)

	res, err := o.Triage(context.Background(), quietChestPain(), "")
	require.NoError(t, err)
	assert.Equal(t, "unparseable", res.Metadata.GenerationError)
	assert.True(t, res.Metadata.FallbackUsed)
	assert.Equal(t, 0, res.Metadata.Validation.Attempts)
	require.NoError(t, res.Output.Validate())
}

func TestTriage_UnknownPackIsReturned(t *testing.T) {
	gen := mockReplies()
	o := newTestOrchestrator(t, gen, nil)

	in := quietChestPain()
	in.PackID = "no_such_pack"
	_, err := o.Triage(context.Background(), in, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, packs.ErrPackNotFound)
	assert.Equal(t, 0, gen.Calls())
}

func TestTriage_RetrievalIsOptional(t *testing.T) {
	var prompts []string
	mock := llm.NewMockClient()
	gen := &countingGenerator{reply: func(req llm.Request) (string, error) {
		prompts = append(prompts, req.Prompt)
		return mock.Generate(context.Background(), req)
	}}

	snippet := retrieval.Snippet{ID: "kb-sca-01", Title: "Diretriz de dor torácica 2024", Text: "Troponina seriada.", Score: 1}
	o := newTestOrchestrator(t, gen, func(d *Deps) {
		d.Searcher = stubSearcher{snippets: []retrieval.Snippet{snippet}}
	})
	res, err := o.Triage(context.Background(), quietChestPain(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"kb-sca-01"}, res.Metadata.Snippets)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Diretriz de dor torácica 2024")

	failing := newTestOrchestrator(t, mockReplies(), func(d *Deps) {
		d.Searcher = stubSearcher{err: errors.New("index offline")}
	})
	res, err = failing.Triage(context.Background(), quietChestPain(), "")
	require.NoError(t, err)
	assert.Empty(t, res.Metadata.Snippets)
	assert.False(t, res.Metadata.FallbackUsed)
}

func TestTriage_AuditFailureIsNotFatal(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	o := newTestOrchestrator(t, mockReplies(), func(d *Deps) { d.Recorder = rec })

	res, err := o.Triage(context.Background(), quietChestPain(), "req-audit")
	require.NoError(t, err)
	require.Len(t, rec.recs, 1)
	assert.Equal(t, "req-audit", rec.recs[0].ID)
	assert.Equal(t, "chest_pain", rec.recs[0].PackID)
	assert.Equal(t, res.Output.Priority, rec.recs[0].Output.Priority)
	assert.Contains(t, string(rec.recs[0].Metadata), `"request_id":"req-audit"`)
}

func TestTriage_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	o := newTestOrchestrator(t, mockReplies(), nil)

	_, err := o.Triage(context.Background(), quietChestPain(), "req-span")
	require.NoError(t, err)

	var found bool
	for _, s := range exporter.GetSpans() {
		if s.Name != "orchestrator.Triage" {
			continue
		}
		found = true
		attrs := map[string]string{}
		for _, kv := range s.Attributes {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		assert.Equal(t, "req-span", attrs["request_id"])
		assert.Equal(t, "chest_pain", attrs["pack_id"])
		assert.Equal(t, "model", attrs["outcome"])
	}
	assert.True(t, found, "orchestrator span recorded")
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestMetadata_Outcome(t *testing.T) {
	assert.Equal(t, "rule", Metadata{ShortCircuited: true}.Outcome())
	assert.Equal(t, "fallback", Metadata{FallbackUsed: true, Repaired: true}.Outcome())
	assert.Equal(t, "repaired", Metadata{Repaired: true}.Outcome())
	assert.Equal(t, "model", Metadata{}.Outcome())
}
