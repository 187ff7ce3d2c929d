// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules implements the deterministic safety layer: red-flag phrase
// detection and ordered disposition overrides whose conditions are written
// in a small boolean language over vital signs.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
	"github.com/AleutianAI/AleutianTriage/services/triage/textnorm"
)

// ErrRuleEvaluation marks a rule whose condition could not be evaluated.
var ErrRuleEvaluation = errors.New("rule evaluation error")

// EvaluationError reports a skipped rule.
type EvaluationError struct {
	PackID    string
	Index     int
	Condition string
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rules: pack %q rule %d (%q): %v", e.PackID, e.Index, e.Condition, e.Err)
}

// Unwrap exposes both the sentinel and the underlying syntax error.
func (e *EvaluationError) Unwrap() []error {
	return []error{ErrRuleEvaluation, e.Err}
}

// Result is the outcome of rule evaluation for one context.
type Result struct {
	// Matched is true when an override rule fired.
	Matched bool

	// Decision is the forced priority and disposition. Zero when !Matched.
	Decision packs.Decision

	// Condition is the source text of the rule that fired.
	Condition string

	// Index is the position of the fired rule in the pack, or -1.
	Index int

	// TriggeredFlags are the pack red-flag phrases found in the complaint,
	// in pack order. Reported whether or not a rule fired.
	TriggeredFlags []string

	// Skipped lists rules that failed to evaluate.
	Skipped []error
}

// Engine evaluates pack rules.
//
// Description:
//
//	Compiled conditions are memoized by their source text. Malformed
//	conditions are memoized as errors so each is logged once per
//	evaluation without reparsing.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	logger   *slog.Logger
	compiled sync.Map // condition -> compileResult
}

type compileResult struct {
	expr *Expr
	err  error
}

// NewEngine creates a rule engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// TriggeredRedFlags returns the pack red flags whose every normalized token
// occurs in the normalized complaint.
func TriggeredRedFlags(pack *packs.Pack, complaint string) []string {
	if len(pack.RedFlags) == 0 {
		return nil
	}
	set := textnorm.TokenSet(complaint)
	var hits []string
	for _, flag := range pack.RedFlags {
		if textnorm.ContainsAllTokens(set, flag) {
			hits = append(hits, flag)
		}
	}
	return hits
}

// Evaluate runs the pack's disposition overrides against c.
//
// Description:
//
//	Red flags are detected first and exposed to conditions as any_red_flag.
//	Overrides are tried in declared order and the first true condition wins;
//	later rules are not evaluated. A rule whose condition fails to compile is
//	logged, recorded in Result.Skipped and treated as not matching.
//
// Inputs:
//   - ctx: Carries the request for log correlation.
//   - pack: The complaint pack.
//   - c: Normalized clinical context.
//
// Outputs:
//   - Result: Match outcome and triggered red flags.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Evaluate(ctx context.Context, pack *packs.Pack, c schema.Context) Result {
	res := Result{Index: -1}
	res.TriggeredFlags = TriggeredRedFlags(pack, c.ChiefComplaint)
	bindings := newEnv(c, len(res.TriggeredFlags) > 0)

	for i, rule := range pack.Rules.DispositionOverrides {
		expr, err := e.compile(rule.When)
		if err != nil {
			evalErr := &EvaluationError{PackID: pack.ID, Index: i, Condition: rule.When, Err: err}
			e.logger.WarnContext(ctx, "rule skipped",
				slog.String("pack_id", pack.ID),
				slog.Int("rule", i),
				slog.String("condition", rule.When),
				slog.String("error", err.Error()))
			res.Skipped = append(res.Skipped, evalErr)
			continue
		}
		if expr.eval(bindings) {
			res.Matched = true
			res.Decision = rule.Then
			res.Condition = rule.When
			res.Index = i
			return res
		}
	}
	return res
}

func (e *Engine) compile(src string) (*Expr, error) {
	if v, ok := e.compiled.Load(src); ok {
		cr := v.(compileResult)
		return cr.expr, cr.err
	}
	expr, err := Compile(src)
	e.compiled.Store(src, compileResult{expr: expr, err: err})
	return expr, err
}
