// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scores

import (
	"strings"

	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
	"github.com/AleutianAI/AleutianTriage/services/triage/textnorm"
)

// Registered names of the built-in scores, as referenced by packs.
const (
	NameNEWS2             = "NEWS2"
	NameCRB65             = "CRB65"
	NameCentorMcIsaac     = "Centor-McIsaac"
	NameWellsPESimplified = "Wells_PE_simplificado"
)

// NEWS2 computes a simplified National Early Warning Score 2.
//
// Unknown vitals take neutral values (SpO2 97, RR 16, SBP 120, temp 36.8,
// HR 80) and therefore contribute zero.
func NEWS2(_ schema.Intake, c schema.Context) (float64, error) {
	v := c.Vitals
	spo2 := or(v.SpO2, 97)
	rr := or(v.RR, 16)
	sbp := or(v.SBP, 120)
	temp := or(v.Temp, 36.8)
	hr := or(v.HR, 80)

	score := 0.0
	switch {
	case spo2 < 92:
		score += 3
	case spo2 < 94:
		score += 2
	}
	switch {
	case rr >= 25 || rr <= 8:
		score += 3
	case rr >= 21:
		score += 2
	}
	switch {
	case sbp <= 90:
		score += 3
	case sbp <= 100:
		score += 1
	}
	if temp < 35 || temp >= 39 {
		score += 2
	}
	switch {
	case hr >= 131 || hr <= 40:
		score += 3
	case hr >= 111 || hr <= 50:
		score += 1
	}
	return score, nil
}

// CRB65 counts confusion (GCS < 15), RR >= 30, SBP <= 90 and age >= 65.
func CRB65(in schema.Intake, c schema.Context) (float64, error) {
	v := c.Vitals
	score := 0.0
	if or(v.GCS, 15) < 15 {
		score++
	}
	if or(v.RR, 16) >= 30 {
		score++
	}
	if or(v.SBP, 120) <= 90 {
		score++
	}
	if in.Age != nil && *in.Age >= 65 {
		score++
	}
	return score, nil
}

// CentorMcIsaac scores streptococcal pharyngitis likelihood. Findings may
// come from structured fields or from the complaint text.
func CentorMcIsaac(in schema.Intake, c schema.Context) (float64, error) {
	text := phraseText(c.ChiefComplaint)
	score := 0.0
	if in.Findings.Fever || or(c.Vitals.Temp, 36.8) >= 38 || mentions(text, "febre", "fever") {
		score++
	}
	if in.Findings.TonsillarExudate || mentions(text, "exsudato", "placas na garganta", "exudate") {
		score++
	}
	if in.Findings.CervicalAdenopathy || mentions(text, "adenopatia", "ingua", "linfonodo aumentado") {
		score++
	}
	if in.Age != nil {
		switch {
		case *in.Age < 15:
			score++
		case *in.Age >= 45:
			score--
		}
	}
	return score, nil
}

// WellsPESimplified is a simplified Wells score for pulmonary embolism.
func WellsPESimplified(in schema.Intake, c schema.Context) (float64, error) {
	text := phraseText(c.ChiefComplaint)
	score := 0.0
	if mentions(text, "dispneia", "falta de ar", "shortness of breath") {
		score += 1.5
	}
	if mentions(text, "dor toracica", "dor no peito", "chest pain") {
		score += 1
	}
	if in.Findings.RecentSurgery {
		score += 1.5
	}
	if in.Findings.HistoryDVT {
		score += 1.5
	}
	if or(c.Vitals.HR, 80) > 100 {
		score += 1.5
	}
	return score, nil
}

func or(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// phraseText pads the token form of s so whole phrases can be matched.
func phraseText(s string) string {
	return " " + strings.Join(textnorm.Tokens(s), " ") + " "
}

func mentions(text string, phrases ...string) bool {
	for _, ph := range phrases {
		if strings.Contains(text, " "+ph+" ") {
			return true
		}
	}
	return false
}
