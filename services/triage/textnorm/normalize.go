// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textnorm folds free-text clinical complaints into a canonical form
// used by red-flag matching, pack selection and retrieval.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of s.
//
// Description:
//
//	Applies compatibility decomposition (NFKD), drops combining marks,
//	lower-cases, replaces "+" with a space and collapses runs of whitespace
//	into a single space. Leading and trailing whitespace is removed.
//
// Inputs:
//   - s: Arbitrary text. Empty input yields empty output.
//
// Outputs:
//   - string: The normalized text.
//
// Examples:
//
//	Normalize("  Dor  TORÁCICA+sudorese ") // "dor toracica sudorese"
//
// Thread Safety: This function is safe for concurrent use.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// A transformer chain is stateful, so one is built per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = strings.ReplaceAll(folded, "+", " ")
	return strings.Join(strings.Fields(folded), " ")
}

// Tokens splits the normalized form of s into word tokens.
//
// Tokens are maximal runs of letters and digits; punctuation separates them.
// The result preserves order and may contain duplicates.
func Tokens(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]struct{} {
	toks := Tokens(s)
	set := make(map[string]struct{}, len(toks))
	for _, tok := range toks {
		set[tok] = struct{}{}
	}
	return set
}

// ContainsAllTokens reports whether every token of phrase appears in set.
// A phrase with no tokens never matches.
func ContainsAllTokens(set map[string]struct{}, phrase string) bool {
	toks := Tokens(phrase)
	if len(toks) == 0 {
		return false
	}
	for _, tok := range toks {
		if _, ok := set[tok]; !ok {
			return false
		}
	}
	return true
}
