// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package textnorm

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"accents and case", "Dor TORÁCICA", "dor toracica"},
		{"plus as space", "febre+tosse", "febre tosse"},
		{"whitespace collapse", "  falta   de\tar \n", "falta de ar"},
		{"cedilla", "Convulsão e esforço", "convulsao e esforco"},
		{"already normal", "chest pain", "chest pain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTokens_SplitsOnPunctuation(t *testing.T) {
	got := Tokens("Chest pain, cold sweat!")
	want := []string{"chest", "pain", "cold", "sweat"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens = %v, want %v", got, want)
	}
}

func TestContainsAllTokens(t *testing.T) {
	set := TokenSet("chest pain, cold sweat")

	if !ContainsAllTokens(set, "cold sweat") {
		t.Error("expected all tokens of 'cold sweat' to be present")
	}
	if !ContainsAllTokens(set, "Sweat COLD") {
		t.Error("token order and case should not matter")
	}
	if ContainsAllTokens(set, "cold hands") {
		t.Error("'hands' is absent, phrase must not match")
	}
	if ContainsAllTokens(set, "  ") {
		t.Error("an empty phrase must never match")
	}
}
