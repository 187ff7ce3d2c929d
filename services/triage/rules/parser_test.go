// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

func evalWith(t *testing.T, src string, c schema.Context, flag bool) bool {
	t.Helper()
	x, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	return x.eval(newEnv(c, flag))
}

func TestCompile_Evaluates(t *testing.T) {
	c := schema.Context{Vitals: schema.Vitals{
		HR:   schema.Float(120),
		SBP:  schema.Float(85),
		SpO2: schema.Float(95),
		Temp: schema.Float(38.2),
	}}
	tests := []struct {
		src  string
		flag bool
		want bool
	}{
		{"hr > 100", false, true},
		{"hr >= 120 and sbp < 90", false, true},
		{"hr > 130 or sbp <= 85", false, true},
		{"not hr > 130", false, true},
		{"not (hr > 100 and sbp < 90)", false, false},
		{"spo2 == 95", false, true},
		{"spo2 != 95", false, false},
		{"90 < hr < 130", false, true},
		{"90 < hr < 110", false, false},
		{"temp >= 38.0", false, true},
		{".5 < 1", false, true},
		{"any_red_flag", true, true},
		{"any_red_flag", false, false},
		{"any_red_flag == True", true, true},
		{"any_red_flag or false", false, false},
		{"hr > 100 and not any_red_flag", false, true},
		{"true", false, true},
		{"0", false, false},
	}
	for _, tt := range tests {
		if got := evalWith(t, tt.src, c, tt.flag); got != tt.want {
			t.Errorf("eval(%q, flag=%v) = %v, want %v", tt.src, tt.flag, got, tt.want)
		}
	}
}

func TestCompile_UnknownValuesCompareFalse(t *testing.T) {
	c := schema.Context{Vitals: schema.Vitals{HR: schema.Float(80)}}
	for _, src := range []string{
		"spo2 < 92",
		"spo2 >= 0",
		"spo2 == spo2",
		"spo2 != 100",
		"gcs < 15",
		"60 < hr < rr",
	} {
		if evalWith(t, src, c, false) {
			t.Errorf("eval(%q) = true, want false for unknown operand", src)
		}
	}
	if !evalWith(t, "not spo2 < 92", c, false) {
		t.Error("negating a false comparison on an unknown value should be true")
	}
	if !evalWith(t, "spo2 < 92 or hr < 90", c, false) {
		t.Error("a known branch of an or should still decide")
	}
}

func TestCompile_RejectsUnsupportedSyntax(t *testing.T) {
	for _, src := range []string{
		"",
		"hr + 1 > 100",
		"hr > 'high'",
		"len(hr) > 1",
		"hr.real > 1",
		"pulse > 100",
		"hr = 100",
		"hr > 100 &&",
		"!any_red_flag",
		"(hr > 100",
		"hr > 100)",
		"hr >",
		"hr > 100 and",
		"1.2.3 > hr",
		"-1 < hr",
		"hr > 100 if sbp else 1",
		"lambda: 1",
		strings.Repeat("(", 100) + "hr" + strings.Repeat(")", 100),
	} {
		_, err := Compile(src)
		if err == nil {
			t.Errorf("Compile(%q) succeeded, want syntax error", src)
			continue
		}
		var syn *SyntaxError
		if !errors.As(err, &syn) {
			t.Errorf("Compile(%q) error = %T, want *SyntaxError", src, err)
		}
	}
}

func TestCompile_PrecedenceNotBindsLooserThanComparison(t *testing.T) {
	c := schema.Context{Vitals: schema.Vitals{HR: schema.Float(50)}}
	// "not hr > 100" is "not (hr > 100)", never "(not hr) > 100".
	if !evalWith(t, "not hr > 100", c, false) {
		t.Error("not should apply to the whole comparison")
	}
	// "and" binds tighter than "or".
	if !evalWith(t, "true or false and false", c, false) {
		t.Error("expected true or (false and false) = true")
	}
}
