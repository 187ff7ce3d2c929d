// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs one triage request end to end.
//
// A request moves through a fixed sequence of stages:
//
//	Normalizing -> RuleCheck -> (ShortCircuit | Scoring) -> Composing ->
//	Generating -> Validating -> Done
//
// RuleCheck is the only branch point. A matched override rule builds the
// output directly from the deterministic decision and no model is called.
// Otherwise the model output always passes through the validator, which
// falls back to the pack's conservative decision when generation failed.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianTriage/services/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/audit"
	"github.com/AleutianAI/AleutianTriage/services/triage/compose"
	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/resilience"
	"github.com/AleutianAI/AleutianTriage/services/triage/retrieval"
	"github.com/AleutianAI/AleutianTriage/services/triage/rules"
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
	"github.com/AleutianAI/AleutianTriage/services/triage/validation"
)

// Stage is one step of the pipeline.
type Stage string

const (
	StageNormalizing  Stage = "normalizing"
	StageRuleCheck    Stage = "rule_check"
	StageShortCircuit Stage = "short_circuit"
	StageScoring      Stage = "scoring"
	StageComposing    Stage = "composing"
	StageGenerating   Stage = "generating"
	StageValidating   Stage = "validating"
	StageDone         Stage = "done"
)

// RuleRationale is attached to red flags reported by a matched rule.
const RuleRationale = "Regra determinística"

// rulePrefix starts the disposition rationale of a rule-built output.
const rulePrefix = "Regra: "

// ruleItemConfidence is attached to the cause and action of a rule-built
// output.
const ruleItemConfidence = 0.9

// ErrNoPack is returned when neither the intake nor the selector names a pack.
var ErrNoPack = errors.New("orchestrator: no pack selected")

// =============================================================================
// Collaborators
// =============================================================================

// PackLoader returns a loaded pack by identifier.
type PackLoader interface {
	Load(ctx context.Context, id string) (*packs.Pack, error)
}

// PackSelector maps an intake to a pack identifier.
type PackSelector interface {
	Select(in schema.Intake) string
}

// Scorer computes every score a pack names.
type Scorer interface {
	Run(ctx context.Context, pack *packs.Pack, in schema.Intake, c schema.Context) map[string]float64
}

// Generator is the resilient model call.
type Generator interface {
	GenerateRequest(ctx context.Context, req llm.Request) (string, error)
	BreakerState() resilience.State
	Provider() string
}

// Recorder persists a finished triage.
type Recorder interface {
	Put(ctx context.Context, rec audit.Record) error
}

// Deps wires an Orchestrator.
type Deps struct {
	// Packs, Selector, Rules, Scores, Generator and Validator are required.
	Packs     PackLoader
	Selector  PackSelector
	Rules     *rules.Engine
	Scores    Scorer
	Generator Generator
	Validator *validation.Validator

	// Searcher adds reference snippets to the prompt. Optional.
	Searcher         retrieval.Searcher
	RetrievalTopK    int
	RetrievalTimeout time.Duration

	// Recorder audits each result. Optional.
	Recorder Recorder

	Sampling compose.Options
	Logger   *slog.Logger
}

// =============================================================================
// Result
// =============================================================================

// Metadata describes how a result was produced.
type Metadata struct {
	RequestID         string   `json:"request_id"`
	PackID            string   `json:"pack_id"`
	PackVersion       string   `json:"pack_version"`
	LatencyMS         int64    `json:"latency_ms"`
	ShortCircuited    bool     `json:"short_circuited"`
	Repaired          bool     `json:"repaired"`
	FallbackUsed      bool     `json:"fallback_used"`
	Rule              string   `json:"rule,omitempty"`
	TriggeredRedFlags []string `json:"triggered_red_flags"`
	Provider          string   `json:"provider,omitempty"`
	BreakerState      string   `json:"breaker_state"`
	GenerationError   string   `json:"generation_error,omitempty"`
	Snippets          []string `json:"snippets,omitempty"`
	Stages            []Stage  `json:"stages"`

	Validation *validation.Report `json:"validation,omitempty"`
}

// Result is the outcome of one triage.
type Result struct {
	Output   schema.Output `json:"output"`
	Metadata Metadata      `json:"metadata"`
}

// Outcome names how the output was produced, for metrics.
func (m Metadata) Outcome() string {
	switch {
	case m.ShortCircuited:
		return "rule"
	case m.FallbackUsed:
		return "fallback"
	case m.Repaired:
		return "repaired"
	default:
		return "model"
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs the triage pipeline.
//
// Thread Safety: Safe for concurrent use. Every collaborator it holds is
// safe for concurrent use and per-request state lives on the stack.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New validates deps and creates an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Packs == nil:
		return nil, fmt.Errorf("orchestrator: pack loader is required")
	case deps.Selector == nil:
		return nil, fmt.Errorf("orchestrator: pack selector is required")
	case deps.Rules == nil:
		return nil, fmt.Errorf("orchestrator: rule engine is required")
	case deps.Scores == nil:
		return nil, fmt.Errorf("orchestrator: score registry is required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("orchestrator: generator is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("orchestrator: validator is required")
	}
	if deps.RetrievalTopK <= 0 {
		deps.RetrievalTopK = retrieval.DefaultTopK
	}
	if deps.RetrievalTimeout <= 0 {
		deps.RetrievalTimeout = 2 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, logger: logger, now: time.Now}, nil
}

// BreakerState reports the generator's circuit state.
func (o *Orchestrator) BreakerState() resilience.State {
	return o.deps.Generator.BreakerState()
}

// Triage runs the pipeline for one intake.
//
// Description:
//
//	Selects and loads the pack, evaluates override rules and either builds
//	the output from the matched decision or scores, composes, generates and
//	validates. Generation failures of any kind end in the conservative
//	fallback output, never in an error.
//
// Inputs:
//   - ctx: Request context. Cancellation stops retrieval; generation attempts
//     are bounded by the resilience layer.
//   - in: The intake record.
//   - requestID: Correlation id. A new UUID is generated when empty.
//
// Outputs:
//   - Result: A schema-valid output and its metadata.
//   - error: Only pack selection or loading failures (wrapping
//     packs.ErrPackNotFound, packs.ErrInvalidPack or ErrNoPack).
func (o *Orchestrator) Triage(ctx context.Context, in schema.Intake, requestID string) (res Result, err error) {
	start := o.now()
	if requestID == "" {
		requestID = uuid.NewString()
	}
	meta := Metadata{RequestID: requestID, Stages: []Stage{StageNormalizing}}

	ctx, span := otel.Tracer("aleutian.triage").Start(ctx, "orchestrator.Triage",
		oteltrace.WithAttributes(attribute.String("request_id", requestID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pack unavailable")
			recordResult(meta.PackID, "error")
		}
		span.End()
	}()
	logger := o.logger.With(slog.String("request_id", requestID))

	c := schema.NewContext(in)
	pack, err := o.loadPack(ctx, in)
	if err != nil {
		logger.WarnContext(ctx, "pack unavailable", slog.String("error", err.Error()))
		return Result{}, err
	}
	meta.PackID = pack.ID
	meta.PackVersion = pack.Meta.Version
	span.SetAttributes(attribute.String("pack_id", pack.ID))

	meta.Stages = append(meta.Stages, StageRuleCheck)
	rr := o.deps.Rules.Evaluate(ctx, pack, c)
	meta.TriggeredRedFlags = nonNil(rr.TriggeredFlags)

	var out schema.Output
	if rr.Matched {
		meta.Stages = append(meta.Stages, StageShortCircuit)
		meta.ShortCircuited = true
		meta.Rule = rr.Condition
		out = ruleOutput(pack, in, c, rr, o.now())
		if verr := out.Validate(); verr != nil {
			logger.ErrorContext(ctx, "rule output failed validation, using conservative fallback",
				slog.String("pack_id", pack.ID),
				slog.String("error", verr.Error()))
			meta.FallbackUsed = true
			meta.Validation = &validation.Report{Attempts: 1, FallbackUsed: true, Errors: []string{verr.Error()}}
			out = ruleFallback(pack, in, c, rr, o.now())
		}
		logger.InfoContext(ctx, "override rule matched",
			slog.String("pack_id", pack.ID),
			slog.Int("rule", rr.Index),
			slog.String("priority", string(rr.Decision.Priority)),
			slog.String("disposition", string(rr.Decision.Disposition)))
	} else {
		out = o.generate(ctx, logger, pack, in, c, rr.TriggeredFlags, &meta)
	}

	meta.Stages = append(meta.Stages, StageDone)
	meta.BreakerState = o.deps.Generator.BreakerState().String()
	elapsed := o.now().Sub(start)
	meta.LatencyMS = elapsed.Milliseconds()

	span.SetAttributes(
		attribute.String("outcome", meta.Outcome()),
		attribute.Bool("short_circuited", meta.ShortCircuited),
		attribute.Bool("fallback_used", meta.FallbackUsed),
		attribute.String("priority", string(out.Priority)),
	)
	span.SetStatus(codes.Ok, "")
	recordResult(pack.ID, meta.Outcome())
	recordDuration(ctx, pack.ID, meta.Outcome(), elapsed)

	logger.InfoContext(ctx, "triage complete",
		slog.String("pack_id", pack.ID),
		slog.String("outcome", meta.Outcome()),
		slog.String("priority", string(out.Priority)),
		slog.String("disposition", string(out.Disposition)),
		slog.Int64("latency_ms", meta.LatencyMS))

	res = Result{Output: out, Metadata: meta}
	o.record(ctx, logger, in, res)
	return res, nil
}

// loadPack resolves the pack for in.
func (o *Orchestrator) loadPack(ctx context.Context, in schema.Intake) (*packs.Pack, error) {
	id := o.deps.Selector.Select(in)
	if id == "" {
		return nil, ErrNoPack
	}
	pack, err := o.deps.Packs.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return pack, nil
}

// generate runs Scoring through Validating and returns a schema-valid output.
func (o *Orchestrator) generate(ctx context.Context, logger *slog.Logger, pack *packs.Pack, in schema.Intake, c schema.Context, flags []string, meta *Metadata) schema.Output {
	meta.Stages = append(meta.Stages, StageScoring)
	scores := o.deps.Scores.Run(ctx, pack, in, c)

	meta.Stages = append(meta.Stages, StageComposing)
	snippets := o.search(ctx, logger, c.ChiefComplaint)
	for _, s := range snippets {
		meta.Snippets = append(meta.Snippets, s.ID)
	}

	var raw validation.Document
	req, buildErr := compose.Build(compose.Input{
		Pack:              pack,
		Intake:            in,
		Context:           c,
		Scores:            scores,
		TriggeredRedFlags: flags,
		Snippets:          snippets,
	}, o.deps.Sampling)

	meta.Stages = append(meta.Stages, StageGenerating)
	meta.Provider = o.deps.Generator.Provider()
	if buildErr != nil {
		meta.GenerationError = "compose"
		logger.ErrorContext(ctx, "prompt composition failed", slog.String("error", buildErr.Error()))
	} else {
		text, genErr := o.deps.Generator.GenerateRequest(ctx, req)
		switch {
		case genErr != nil:
			meta.GenerationError = resilience.ErrorClass(genErr)
			logger.WarnContext(ctx, "generation failed, falling back",
				slog.String("provider", meta.Provider),
				slog.String("class", meta.GenerationError),
				slog.String("error", llm.SafeLogString(genErr.Error())))
		default:
			doc, parseErr := validation.ExtractDocument(text)
			if parseErr != nil {
				meta.GenerationError = "unparseable"
				logger.WarnContext(ctx, "model reply has no JSON object", slog.String("error", parseErr.Error()))
			} else {
				raw = doc
			}
		}
	}

	meta.Stages = append(meta.Stages, StageValidating)
	out, report := o.deps.Validator.ValidateAndRepair(raw, pack, in, c, scores)
	meta.Repaired = report.Repaired
	meta.FallbackUsed = report.FallbackUsed
	meta.Validation = &report
	return out
}

// search fetches reference snippets. Failures and timeouts yield none.
func (o *Orchestrator) search(ctx context.Context, logger *slog.Logger, query string) []retrieval.Snippet {
	if o.deps.Searcher == nil || query == "" {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, o.deps.RetrievalTimeout)
	defer cancel()
	snippets, err := o.deps.Searcher.Search(sctx, query, o.deps.RetrievalTopK)
	if err != nil {
		logger.WarnContext(ctx, "retrieval failed, continuing without references",
			slog.String("error", err.Error()))
		return nil
	}
	return snippets
}

// record audits res. Failures are logged only.
func (o *Orchestrator) record(ctx context.Context, logger *slog.Logger, in schema.Intake, res Result) {
	if o.deps.Recorder == nil {
		return
	}
	metaJSON, err := json.Marshal(res.Metadata)
	if err != nil {
		logger.WarnContext(ctx, "audit metadata encoding failed", slog.String("error", err.Error()))
		metaJSON = nil
	}
	rec := audit.Record{
		ID:        res.Metadata.RequestID,
		CreatedAt: res.Output.Meta.Timestamp,
		PackID:    res.Metadata.PackID,
		Intake:    in,
		Output:    res.Output,
		Metadata:  metaJSON,
	}
	if err := o.deps.Recorder.Put(ctx, rec); err != nil {
		logger.WarnContext(ctx, "audit write failed", slog.String("error", err.Error()))
	}
}

// ruleOutput builds the output of a matched override rule: the triggered
// red flags, the first allowed cause and action, and the forced decision.
func ruleOutput(pack *packs.Pack, in schema.Intake, c schema.Context, rr rules.Result, now time.Time) schema.Output {
	flags := make([]schema.Item, 0, len(rr.TriggeredFlags))
	for _, f := range rr.TriggeredFlags {
		flags = append(flags, schema.Item{
			Label:      f,
			Confidence: schema.Float(1.0),
			Rationale:  RuleRationale,
		})
	}
	causes := []schema.Item{}
	if cause := pack.FirstCause(); cause != "" {
		causes = append(causes, schema.Item{
			Label:      cause,
			Confidence: schema.Float(ruleItemConfidence),
			Codes:      pack.CodesFor(cause),
		})
	}
	actions := []schema.Item{}
	if action := pack.FirstAction(); action != "" {
		actions = append(actions, schema.Item{
			Label:      action,
			Confidence: schema.Float(ruleItemConfidence),
		})
	}
	return schema.Output{
		Meta:                 schema.NewMeta(validation.OutputLocale(pack, in), now),
		Patient:              schema.PatientFromIntake(in),
		Context:              c,
		Scores:               map[string]float64{},
		RedFlags:             flags,
		ProbableCauses:       causes,
		RecommendedActions:   actions,
		Priority:             rr.Decision.Priority,
		Disposition:          rr.Decision.Disposition,
		DispositionRationale: rulePrefix + rr.Condition,
	}
}

// ruleFallback is the conservative output for a matched rule whose own
// output is invalid. The rule's priority and disposition are kept so a
// fallback never downgrades an override.
func ruleFallback(pack *packs.Pack, in schema.Intake, c schema.Context, rr rules.Result, now time.Time) schema.Output {
	fb := validation.Fallback(pack, in, c, map[string]float64{}, now)
	kept := fb
	kept.Priority = rr.Decision.Priority
	kept.Disposition = rr.Decision.Disposition
	if kept.Validate() != nil {
		return fb
	}
	return kept
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
