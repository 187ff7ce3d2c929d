// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package packs

import (
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

// =============================================================================
// Pack Types
// =============================================================================

// Pack is the declarative configuration for one complaint family.
//
// Description:
//
//	A pack declares the allowed vocabulary for model output, the red-flag
//	phrases, the scores to compute, clinical codes per cause, ordered
//	disposition override rules and the conservative fallback decision.
//
// Thread Safety: A Pack is immutable after Load returns it and may be shared
// freely between goroutines.
type Pack struct {
	ID          string     `yaml:"id" validate:"required"`
	Meta        PackMeta   `yaml:"meta"`
	Vocab       Vocab      `yaml:"vocab"`
	RedFlags    []string   `yaml:"red_flags" validate:"dive,required"`
	BannedTerms []string   `yaml:"banned_terms" validate:"dive,required"`
	Scores      []ScoreRef `yaml:"scores" validate:"dive"`
	Codes       Codes      `yaml:"codes"`
	Rules       Rules      `yaml:"rules"`
	Fallback    Fallback   `yaml:"fallback"`

	causeSet  map[string]struct{}
	actionSet map[string]struct{}
}

// PackMeta is versioning information for a pack.
type PackMeta struct {
	Version string          `yaml:"version" validate:"required"`
	Locales []schema.Locale `yaml:"locales" validate:"dive,locale"`
}

// Vocab holds the whitelists the model output is filtered against.
type Vocab struct {
	ProbableCausesAllow []string `yaml:"probable_causes_allow" validate:"min=1,dive,required"`
	ActionsAllow        []string `yaml:"actions_allow" validate:"min=1,dive,required"`
}

// ScoreRef names a registered score function.
type ScoreRef struct {
	Name string `yaml:"name" validate:"required"`
}

// Codes maps allowed cause labels to clinical codes.
type Codes struct {
	Conditions map[string][]schema.Code `yaml:"conditions" validate:"dive,dive"`
}

// Rules holds the ordered disposition overrides.
type Rules struct {
	DispositionOverrides []Override `yaml:"disposition_overrides" validate:"dive"`
}

// Override is one rule: a boolean condition and the decision it forces.
// The condition is not checked at load; a malformed condition fails only
// that rule at evaluation time.
type Override struct {
	When string   `yaml:"when"`
	Then Decision `yaml:"then"`
}

// Decision is the forced priority and disposition of a matched rule.
type Decision struct {
	Priority    schema.Priority    `yaml:"priority" json:"priority" validate:"priority"`
	Disposition schema.Disposition `yaml:"disposition" json:"disposition" validate:"disposition"`
}

// Fallback is the conservative decision used when model output cannot be
// repaired. It is never non-urgent.
type Fallback struct {
	Priority    schema.Priority    `yaml:"priority" json:"priority" validate:"oneof=emergent urgent"`
	Disposition schema.Disposition `yaml:"disposition" json:"disposition" validate:"disposition"`
}

// =============================================================================
// Accessors
// =============================================================================

// index builds the whitelist lookup sets. Called once by the loader.
func (p *Pack) index() {
	p.causeSet = make(map[string]struct{}, len(p.Vocab.ProbableCausesAllow))
	for _, c := range p.Vocab.ProbableCausesAllow {
		p.causeSet[c] = struct{}{}
	}
	p.actionSet = make(map[string]struct{}, len(p.Vocab.ActionsAllow))
	for _, a := range p.Vocab.ActionsAllow {
		p.actionSet[a] = struct{}{}
	}
}

// CauseAllowed reports whether label is in the probable-cause whitelist.
func (p *Pack) CauseAllowed(label string) bool {
	_, ok := p.causeSet[label]
	return ok
}

// ActionAllowed reports whether label is in the action whitelist.
func (p *Pack) ActionAllowed(label string) bool {
	_, ok := p.actionSet[label]
	return ok
}

// FirstCause returns the first declared probable cause.
func (p *Pack) FirstCause() string {
	return p.Vocab.ProbableCausesAllow[0]
}

// FirstAction returns the first declared recommended action.
func (p *Pack) FirstAction() string {
	return p.Vocab.ActionsAllow[0]
}

// CodesFor returns a copy of the codes declared for a cause label.
func (p *Pack) CodesFor(label string) []schema.Code {
	codes := p.Codes.Conditions[label]
	if len(codes) == 0 {
		return nil
	}
	out := make([]schema.Code, len(codes))
	copy(out, codes)
	return out
}

// ScoreNames returns the score names in declared order.
func (p *Pack) ScoreNames() []string {
	names := make([]string, 0, len(p.Scores))
	for _, s := range p.Scores {
		names = append(names, s.Name)
	}
	return names
}
