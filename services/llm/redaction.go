// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"regexp"
)

// redactionPattern pairs a compiled regex with a replacement label.
//
// Thread Safety: This type is immutable after construction.
type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string

	// Identifier marks patient identifiers, as opposed to credentials.
	Identifier bool
}

// redactionPatterns is the ordered list of secret and patient-identifier
// patterns to redact.
//
// IMPORTANT: Order matters. sk-or-v1- must appear before the generic sk-
// pattern, and CNS (15 digits) before the phone pattern.
var redactionPatterns = []redactionPattern{
	// OpenRouter API key: sk-or-v1-<hex>
	{
		Pattern:     regexp.MustCompile(`sk-or-v1-[A-Za-z0-9]{20,}`),
		Replacement: "[REDACTED:openrouter_key]",
	},
	// OpenAI API key: sk-<base62, 20+ chars>, including sk-proj- keys.
	{
		Pattern:     regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:openai_key]",
	},
	// Bearer token in Authorization header values
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	// API key in URL query parameter: key=<value>
	{
		Pattern:     regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`),
		Replacement: "key=[REDACTED]",
	},
	// Password in connection strings or config: password=<value>
	{
		Pattern:     regexp.MustCompile(`password=[^\s&]{3,}`),
		Replacement: "password=[REDACTED]",
	},
	// Brazilian taxpayer id (CPF), formatted or bare.
	{
		Pattern:     regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b|\b\d{11}\b`),
		Replacement: "[REDACTED:cpf]",
		Identifier:  true,
	},
	// National health card (CNS): 15 digits starting with 1, 2, 7, 8 or 9.
	{
		Pattern:     regexp.MustCompile(`\b[12789]\d{2}\s?\d{4}\s?\d{4}\s?\d{4}\b`),
		Replacement: "[REDACTED:cns]",
		Identifier:  true,
	},
	{
		Pattern:     regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		Replacement: "[REDACTED:email]",
		Identifier:  true,
	},
	// Phone numbers with optional +55 and area code: (11) 98765-4321
	{
		Pattern:     regexp.MustCompile(`(?:\+55\s?)?\(?\d{2}\)?\s?9?\d{4}-\d{4}\b`),
		Replacement: "[REDACTED:phone]",
		Identifier:  true,
	},
}

// SafeLogString redacts known secret and patient-identifier patterns from a
// string before logging.
//
// Description:
//
//	Each match is replaced with a labeled placeholder (e.g.,
//	[REDACTED:openai_key], [REDACTED:cpf]) so the log reader knows what was
//	present without seeing the value. Provider error bodies and free-text
//	complaints pass through here before they reach a log line.
//
// Inputs:
//   - s: The string to redact. Empty string is valid and returns empty string.
//
// Outputs:
//   - string: The input with all matched patterns replaced.
//
// Examples:
//
//	SafeLogString("error: sk-or-v1-0123456789abcdef0123456789 returned 401")
//	// Returns: "error: [REDACTED:openrouter_key] returned 401"
//
//	SafeLogString("paciente CPF 123.456.789-09")
//	// Returns: "paciente CPF [REDACTED:cpf]"
//
// Limitations:
//   - Pattern-based detection only. Names and addresses are not detected.
//   - A value that spans multiple lines will not be matched.
//
// Thread Safety: This function is safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range redactionPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// RedactIdentifiers replaces patient identifiers (CPF, CNS, e-mail, phone)
// with labeled placeholders and reports how many were replaced. Credentials
// are left alone. Placeholders contain no quotes, so JSON text stays valid.
//
// Thread Safety: This function is safe for concurrent use.
func RedactIdentifiers(s string) (string, int) {
	n := 0
	for _, p := range redactionPatterns {
		if !p.Identifier {
			continue
		}
		s = p.Pattern.ReplaceAllStringFunc(s, func(string) string {
			n++
			return p.Replacement
		})
	}
	return s, n
}
