// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation turns raw model output into a schema-valid triage
// output: whitelist and banned-term filtering, structural validation,
// deletion-only repair and a conservative fallback.
package validation

import (
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

// MaxRepairRounds is the number of repair rounds after the first
// validation, for three validations in total.
const MaxRepairRounds = 2

// FallbackRationale marks a conservative fallback output.
const FallbackRationale = "Fallback seguro: saída do modelo indisponível ou inválida; conduta conservadora do pacote."

// fallbackConfidence is attached to the fallback cause and action.
const fallbackConfidence = 0.5

// Report describes what ValidateAndRepair did.
type Report struct {
	// Attempts is the number of validations performed (0 when the raw
	// document was empty).
	Attempts int `json:"attempts"`

	// Repaired is true when at least one repair round deleted something.
	Repaired bool `json:"repaired"`

	// FallbackUsed is true when the conservative fallback was returned.
	FallbackUsed bool `json:"fallback_used"`

	// Errors are the issues of the last failed validation.
	Errors []string `json:"errors,omitempty"`

	// DroppedLabels were removed by the whitelist filter.
	DroppedLabels []string `json:"dropped_labels,omitempty"`

	// BannedLabels were removed by the banned-term filter.
	BannedLabels []string `json:"banned_labels,omitempty"`
}

// Validator runs the validate-and-repair loop.
//
// Thread Safety: Safe for concurrent use; it holds no mutable state.
type Validator struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewValidator creates a Validator. A nil logger defaults to slog.Default().
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger, now: time.Now}
}

// ValidateAndRepair produces a schema-valid output from raw model output.
//
// Description:
//
//	The server-owned sections (meta, patient, context, scores) are stamped
//	over the document first. Then whitelist and banned-term filters run,
//	followed by up to 1+MaxRepairRounds validations. Each failed validation
//	deletes the offending keys or array elements (never corrects them) and
//	re-filters. When every round fails, or raw is empty, the conservative
//	fallback built from pack-declared values is returned.
//
// Inputs:
//   - raw: The model document. Not modified. Nil or empty goes straight to
//     fallback.
//   - pack: The loaded pack driving whitelists, banned terms and fallback.
//   - in: The intake, for the patient section.
//   - c: The normalized clinical context.
//   - scores: Computed scores.
//
// Outputs:
//   - schema.Output: Always valid.
//   - Report: What happened.
func (v *Validator) ValidateAndRepair(raw Document, pack *packs.Pack, in schema.Intake, c schema.Context, scores map[string]float64) (schema.Output, Report) {
	var report Report
	now := v.now()

	if len(raw) == 0 {
		report.FallbackUsed = true
		report.Errors = []string{"empty model output"}
		return Fallback(pack, in, c, scores, now), report
	}

	work := deepCopy(raw).(map[string]any)
	if err := v.stamp(work, pack, in, c, scores, now); err != nil {
		v.logger.Error("stamping server-owned sections failed", slog.String("error", err.Error()))
		report.FallbackUsed = true
		report.Errors = []string{err.Error()}
		return Fallback(pack, in, c, scores, now), report
	}

	banned := normalizedBanned(pack)
	var d dropped
	filter := func() {
		enforceWhitelist(work, pack, &d)
		prohibitTerms(work, banned, &d)
	}
	filter()

	for attempt := 1; attempt <= 1+MaxRepairRounds; attempt++ {
		report.Attempts = attempt
		out, issues := decode(work)
		if len(issues) == 0 {
			report.Errors = nil
			report.DroppedLabels, report.BannedLabels = d.whitelist, d.banned
			return out, report
		}
		report.Errors = issueStrings(issues)
		v.logger.Debug("triage output failed validation",
			slog.String("pack", pack.ID),
			slog.Int("attempt", attempt),
			slog.Int("issues", len(issues)),
		)
		if attempt == 1+MaxRepairRounds {
			break
		}
		if repair(work, issues) {
			report.Repaired = true
		}
		filter()
	}

	v.logger.Warn("triage output unrecoverable, using conservative fallback",
		slog.String("pack", pack.ID),
		slog.Int("attempts", report.Attempts),
	)
	report.FallbackUsed = true
	report.DroppedLabels, report.BannedLabels = d.whitelist, d.banned
	return Fallback(pack, in, c, scores, now), report
}

// stamp overwrites the server-owned sections with values derived from the
// request, so model output can never alter them.
func (v *Validator) stamp(doc Document, pack *packs.Pack, in schema.Intake, c schema.Context, scores map[string]float64, now time.Time) error {
	sections := map[string]any{
		"meta":    schema.NewMeta(OutputLocale(pack, in), now),
		"patient": schema.PatientFromIntake(in),
		"context": c,
		"scores":  copyScores(scores),
	}
	for key, val := range sections {
		jv, err := jsonValue(val)
		if err != nil {
			return err
		}
		doc[key] = jv
	}
	return nil
}

// repair deletes the target of every issue. Targets are processed in
// descending location order so deleting an array element never shifts an
// index still to be processed.
func repair(doc Document, issues []Issue) bool {
	targets := make([]Location, 0, len(issues))
	for _, is := range issues {
		t := is.Location
		if is.Missing {
			t = enclosingElement(t)
		}
		if len(t) > 0 {
			targets = append(targets, t)
		}
	}
	slices.SortFunc(targets, func(a, b Location) int { return compareLocations(b, a) })

	changed := false
	for i, t := range targets {
		if i > 0 && compareLocations(t, targets[i-1]) == 0 {
			continue
		}
		if deleteAt(doc, t) {
			changed = true
		}
	}
	return changed
}

// enclosingElement returns the location of the nearest array element that
// contains loc, or nil when there is none.
func enclosingElement(loc Location) Location {
	for i := len(loc) - 2; i >= 0; i-- {
		if _, isIndex := loc[i].(int); isIndex {
			return loc[:i+1]
		}
	}
	return nil
}

// Fallback builds the conservative output from pack-declared safe values:
// the first allowed cause and action, no red flags, and the pack's fallback
// priority and disposition.
func Fallback(pack *packs.Pack, in schema.Intake, c schema.Context, scores map[string]float64, now time.Time) schema.Output {
	cause := pack.FirstCause()
	action := pack.FirstAction()
	return schema.Output{
		Meta:     schema.NewMeta(OutputLocale(pack, in), now),
		Patient:  schema.PatientFromIntake(in),
		Context:  c,
		Scores:   copyScores(scores),
		RedFlags: []schema.Item{},
		ProbableCauses: []schema.Item{{
			Label:      cause,
			Confidence: schema.Float(fallbackConfidence),
			Codes:      validCodes(pack.CodesFor(cause)),
		}},
		RecommendedActions: []schema.Item{{
			Label:      action,
			Confidence: schema.Float(fallbackConfidence),
		}},
		Priority:             pack.Fallback.Priority,
		Disposition:          pack.Fallback.Disposition,
		DispositionRationale: FallbackRationale,
	}
}

// validCodes keeps the codes that pass output validation, so the fallback
// validates whatever a pack declares.
func validCodes(codes []schema.Code) []schema.Code {
	var out []schema.Code
	for _, c := range codes {
		if c.System.Valid() && c.Code != "" {
			out = append(out, c)
		}
	}
	return out
}

// OutputLocale picks the intake locale, then the pack's first locale, then
// the default.
func OutputLocale(pack *packs.Pack, in schema.Intake) schema.Locale {
	if in.Locale.Valid() {
		return in.Locale
	}
	if len(pack.Meta.Locales) > 0 && pack.Meta.Locales[0].Valid() {
		return pack.Meta.Locales[0]
	}
	return schema.DefaultLocale
}

func copyScores(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	maps.Copy(out, scores)
	return out
}

func issueStrings(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.String()
	}
	slices.Sort(out)
	return out
}
