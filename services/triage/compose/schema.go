// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"slices"

	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

// =============================================================================
// Output Schema
// =============================================================================

var (
	priorities   = []any{string(schema.PriorityEmergent), string(schema.PriorityUrgent), string(schema.PriorityNonUrgent)}
	dispositions = []any{
		string(schema.DispositionER), string(schema.DispositionClinicSameDay),
		string(schema.DispositionClinicRoutine), string(schema.DispositionHomeCareWatch),
	}
	codeSystems = []any{
		string(schema.CodeSystemCID10), string(schema.CodeSystemCIAP2),
		string(schema.CodeSystemSNOMED), string(schema.CodeSystemLOINC),
	}
)

// OutputSchema returns the JSON Schema for the model-owned sections of a
// triage output. Cause and action labels are enumerated from the pack's
// allow-lists. Server-owned sections (meta, patient, context, scores) are
// not part of it.
//
// A fresh map is returned on every call; callers may modify it.
func OutputSchema(pack *packs.Pack) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"red_flags", "probable_causes", "recommended_actions", "priority", "disposition"},
		"properties": map[string]any{
			"red_flags":             itemArray(nil),
			"probable_causes":       itemArray(pack.Vocab.ProbableCausesAllow),
			"recommended_actions":   itemArray(pack.Vocab.ActionsAllow),
			"priority":              map[string]any{"type": "string", "enum": slices.Clone(priorities)},
			"disposition":           map[string]any{"type": "string", "enum": slices.Clone(dispositions)},
			"disposition_rationale": map[string]any{"type": "string"},
		},
	}
}

func itemArray(labels []string) map[string]any {
	label := map[string]any{"type": "string"}
	if len(labels) > 0 {
		enum := make([]any, len(labels))
		for i, l := range labels {
			enum[i] = l
		}
		label["enum"] = enum
	}
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"label"},
			"properties": map[string]any{
				"label":      label,
				"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				"rationale":  map[string]any{"type": "string"},
				"codes": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []any{"system", "code"},
						"properties": map[string]any{
							"system": map[string]any{"type": "string", "enum": slices.Clone(codeSystems)},
							"code":   map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	}
}
