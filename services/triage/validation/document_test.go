// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDocument(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", `{"priority":"urgent"}`, "urgent"},
		{"fenced", "Segue a resposta:\n```json\n{\"priority\":\"emergent\"}\n```\nObrigado.", "emergent"},
		{"embedded", `Resultado: {"priority":"non-urgent"} fim`, "non-urgent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ExtractDocument(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc["priority"])
		})
	}
}

func TestExtractDocument_NoObject(t *testing.T) {
	for _, text := range []string{"", "   ", "no json here", "[1,2,3]", "{broken"} {
		_, err := ExtractDocument(text)
		assert.ErrorIs(t, err, ErrNoDocument, "text %q", text)
	}
}

func TestLocation_String(t *testing.T) {
	assert.Equal(t, "$", Location(nil).String())
	assert.Equal(t, "priority", Location{"priority"}.String())
	assert.Equal(t, "probable_causes[2].codes[0].system", Location{"probable_causes", 2, "codes", 0, "system"}.String())
}

func TestParseNamespace(t *testing.T) {
	assert.Equal(t, Location{"probable_causes", 0, "confidence"}, parseNamespace("Output.probable_causes[0].confidence"))
	assert.Equal(t, Location{"priority"}, parseNamespace("Output.priority"))
}

func TestDeleteAt(t *testing.T) {
	doc := Document{
		"items": []any{
			map[string]any{"label": "a", "extra": 1},
			map[string]any{"label": "b"},
			map[string]any{"label": "c"},
		},
		"top": true,
	}

	assert.True(t, deleteAt(doc, Location{"items", 0, "extra"}))
	assert.True(t, deleteAt(doc, Location{"items", 2}))
	assert.True(t, deleteAt(doc, Location{"top"}))
	assert.False(t, deleteAt(doc, Location{"missing"}))
	assert.False(t, deleteAt(doc, Location{"items", 9}))

	assert.Equal(t, Document{
		"items": []any{
			map[string]any{"label": "a"},
			map[string]any{"label": "b"},
		},
	}, doc)
}

func TestRepair_DeletesDescendingSoIndicesStayValid(t *testing.T) {
	doc := Document{
		"red_flags": []any{
			map[string]any{"label": "a"},
			map[string]any{},
			map[string]any{"label": "c"},
			map[string]any{},
		},
	}
	issues := []Issue{
		{Location: Location{"red_flags", 1, "label"}, Missing: true},
		{Location: Location{"red_flags", 3, "label"}, Missing: true},
	}

	assert.True(t, repair(doc, issues))
	assert.Equal(t, []any{
		map[string]any{"label": "a"},
		map[string]any{"label": "c"},
	}, doc["red_flags"])
}

func TestRepair_MissingTopLevelKeyIsNoOp(t *testing.T) {
	doc := Document{"disposition": "ER"}
	assert.False(t, repair(doc, []Issue{{Location: Location{"priority"}, Missing: true}}))
	assert.Equal(t, Document{"disposition": "ER"}, doc)
}
