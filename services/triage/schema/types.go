// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema defines the triage data model shared by every stage of the
// pipeline: the intake record, the clinical context, and the triage output
// whose shape is enforced before anything reaches a caller.
package schema

import (
	"strings"
	"time"
)

// TriageVersion is stamped into every output's meta section.
const TriageVersion = "1.0.0"

// =============================================================================
// Closed Enumerations
// =============================================================================

// Priority is the urgency class of a triage decision.
type Priority string

const (
	PriorityEmergent  Priority = "emergent"
	PriorityUrgent    Priority = "urgent"
	PriorityNonUrgent Priority = "non-urgent"
)

// Valid reports whether p is one of the closed priority values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityEmergent, PriorityUrgent, PriorityNonUrgent:
		return true
	}
	return false
}

// Disposition is the care destination recommended to the patient.
type Disposition string

const (
	DispositionER            Disposition = "ER"
	DispositionClinicSameDay Disposition = "Clinic same day"
	DispositionClinicRoutine Disposition = "Clinic routine"
	DispositionHomeCareWatch Disposition = "Home care + watch"
)

// Valid reports whether d is one of the closed disposition values.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionER, DispositionClinicSameDay, DispositionClinicRoutine, DispositionHomeCareWatch:
		return true
	}
	return false
}

// CodeSystem names a clinical coding system.
type CodeSystem string

const (
	CodeSystemCID10  CodeSystem = "CID-10"
	CodeSystemCIAP2  CodeSystem = "CIAP-2"
	CodeSystemSNOMED CodeSystem = "SNOMED"
	CodeSystemLOINC  CodeSystem = "LOINC"
)

// Valid reports whether s is a supported coding system.
func (s CodeSystem) Valid() bool {
	switch s {
	case CodeSystemCID10, CodeSystemCIAP2, CodeSystemSNOMED, CodeSystemLOINC:
		return true
	}
	return false
}

// Locale is the language/region of the produced output.
type Locale string

const (
	LocalePtBR Locale = "pt-BR"
	LocalePtPT Locale = "pt-PT"
	LocaleEnUS Locale = "en-US"
)

// DefaultLocale is used when an intake does not name one.
const DefaultLocale = LocalePtBR

// Valid reports whether l is a supported locale.
func (l Locale) Valid() bool {
	switch l {
	case LocalePtBR, LocalePtPT, LocaleEnUS:
		return true
	}
	return false
}

// Sex of the patient as recorded at intake.
type Sex string

const (
	SexMale    Sex = "male"
	SexFemale  Sex = "female"
	SexUnknown Sex = "unknown"
)

// Valid reports whether s is a supported value.
func (s Sex) Valid() bool {
	switch s {
	case SexMale, SexFemale, SexUnknown:
		return true
	}
	return false
}

// =============================================================================
// Input Records
// =============================================================================

// Vitals holds the measured vital signs. A nil field is unknown and is never
// replaced by a default at this level.
type Vitals struct {
	HR   *float64 `json:"hr,omitempty" yaml:"hr,omitempty" validate:"omitempty,gte=0"`
	SBP  *float64 `json:"sbp,omitempty" yaml:"sbp,omitempty" validate:"omitempty,gte=0"`
	DBP  *float64 `json:"dbp,omitempty" yaml:"dbp,omitempty" validate:"omitempty,gte=0"`
	Temp *float64 `json:"temp,omitempty" yaml:"temp,omitempty" validate:"omitempty,gte=0"`
	SpO2 *float64 `json:"spo2,omitempty" yaml:"spo2,omitempty" validate:"omitempty,gte=0,lte=100"`
	RR   *float64 `json:"rr,omitempty" yaml:"rr,omitempty" validate:"omitempty,gte=0"`
	GCS  *float64 `json:"gcs,omitempty" yaml:"gcs,omitempty" validate:"omitempty,gte=3,lte=15"`
}

// Findings are structured clinical observations consumed by scores.
type Findings struct {
	Fever              bool `json:"fever,omitempty" yaml:"fever,omitempty"`
	TonsillarExudate   bool `json:"tonsillar_exudate,omitempty" yaml:"tonsillar_exudate,omitempty"`
	CervicalAdenopathy bool `json:"cervical_adenopathy,omitempty" yaml:"cervical_adenopathy,omitempty"`
	RecentSurgery      bool `json:"recent_surgery,omitempty" yaml:"recent_surgery,omitempty"`
	HistoryDVT         bool `json:"history_dvt,omitempty" yaml:"history_dvt,omitempty"`
}

// Intake is the patient-intake record received from collaborators.
//
// Vitals are accepted as measured and normalized later by NewContext, so
// they are excluded from intake validation.
type Intake struct {
	Complaint  string   `json:"complaint" yaml:"complaint" validate:"required,max=4000"`
	Age        *int     `json:"age,omitempty" yaml:"age,omitempty" validate:"omitempty,gte=0,lte=130"`
	Sex        Sex      `json:"sex,omitempty" yaml:"sex,omitempty" validate:"omitempty,sex"`
	Pregnant   *bool    `json:"pregnant,omitempty" yaml:"pregnant,omitempty"`
	Vitals     Vitals   `json:"vitals" yaml:"vitals" validate:"-"`
	Findings   Findings `json:"findings" yaml:"findings"`
	Refinement string   `json:"refinement,omitempty" yaml:"refinement,omitempty" validate:"max=4000"`
	PackID     string   `json:"pack_id,omitempty" yaml:"pack_id,omitempty"`
	Locale     Locale   `json:"locale,omitempty" yaml:"locale,omitempty" validate:"omitempty,locale"`
}

// Context is the normalized clinical situation evaluated by rules and scores.
// It is immutable once built.
type Context struct {
	ChiefComplaint string `json:"chief_complaint"`
	Vitals         Vitals `json:"vitals"`
}

// NewContext builds the clinical context for an intake. A refinement, when
// present, is appended to the complaint so that red flags in either are seen.
func NewContext(in Intake) Context {
	parts := make([]string, 0, 2)
	if c := strings.TrimSpace(in.Complaint); c != "" {
		parts = append(parts, c)
	}
	if r := strings.TrimSpace(in.Refinement); r != "" {
		parts = append(parts, r)
	}
	return Context{
		ChiefComplaint: strings.Join(parts, ". "),
		Vitals:         NormalizeVitals(in.Vitals),
	}
}

// =============================================================================
// Triage Output
// =============================================================================

// Code is one clinical code attached to an item.
type Code struct {
	System CodeSystem `json:"system" yaml:"system" validate:"codesystem"`
	Code   string     `json:"code" yaml:"code" validate:"required"`
}

// Item is a labeled entry in red_flags, probable_causes or recommended_actions.
type Item struct {
	Label      string   `json:"label" validate:"required"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Codes      []Code   `json:"codes,omitempty" validate:"omitempty,dive"`
	Rationale  string   `json:"rationale,omitempty"`
}

// Meta describes the output itself.
type Meta struct {
	TriageVersion string    `json:"triage_version" validate:"required"`
	Timestamp     time.Time `json:"timestamp" validate:"required"`
	Locale        Locale    `json:"locale" validate:"locale"`
}

// Patient is the demographic section of the output.
type Patient struct {
	Age      *int  `json:"age,omitempty" validate:"omitempty,gte=0,lte=130"`
	Sex      Sex   `json:"sex" validate:"sex"`
	Pregnant *bool `json:"pregnant,omitempty"`
}

// Output is the Triage Output returned to callers. Keys not declared here are
// rejected, and every value must satisfy its validate tag.
type Output struct {
	Meta                 Meta               `json:"meta"`
	Patient              Patient            `json:"patient"`
	Context              Context            `json:"context"`
	Scores               map[string]float64 `json:"scores"`
	RedFlags             []Item             `json:"red_flags" validate:"dive"`
	ProbableCauses       []Item             `json:"probable_causes" validate:"dive"`
	RecommendedActions   []Item             `json:"recommended_actions" validate:"dive"`
	Priority             Priority           `json:"priority" validate:"priority"`
	Disposition          Disposition        `json:"disposition" validate:"disposition"`
	DispositionRationale string             `json:"disposition_rationale,omitempty"`
}

// PatientFromIntake derives the output patient section, substituting
// "unknown" for a missing or unsupported sex.
func PatientFromIntake(in Intake) Patient {
	sex := in.Sex
	if !sex.Valid() {
		sex = SexUnknown
	}
	p := Patient{Sex: sex, Pregnant: in.Pregnant}
	if in.Age != nil && *in.Age >= 0 && *in.Age <= 130 {
		age := *in.Age
		p.Age = &age
	}
	return p
}

// NewMeta builds the meta section, defaulting an unsupported locale.
func NewMeta(locale Locale, now time.Time) Meta {
	if !locale.Valid() {
		locale = DefaultLocale
	}
	return Meta{TriageVersion: TriageVersion, Timestamp: now.UTC(), Locale: locale}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
