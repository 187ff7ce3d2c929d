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
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Document is a loosely typed JSON object as produced by the model. It is
// only ever handled inside this package; everything leaving it is a typed
// schema.Output.
type Document = map[string]any

// ErrNoDocument is returned by ExtractDocument when the text holds no JSON
// object.
var ErrNoDocument = errors.New("validation: no JSON object in model output")

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// ExtractDocument parses model text into a Document.
//
// Description:
//
//	Tries, in order: the whole text as a JSON object, the first fenced
//	```json block, and the span from the first '{' to the last '}'.
//
// Outputs:
//   - Document: The parsed object.
//   - error: ErrNoDocument (wrapped) when none of the strategies parse.
func ExtractDocument(text string) (Document, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoDocument
	}
	if doc, err := parseObject(text); err == nil {
		return doc, nil
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if doc, err := parseObject(m[1]); err == nil {
			return doc, nil
		}
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		doc, err := parseObject(text[start : end+1])
		if err == nil {
			return doc, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNoDocument, err)
	}
	return nil, ErrNoDocument
}

func parseObject(s string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNoDocument
	}
	return doc, nil
}

// =============================================================================
// Locations
// =============================================================================

// Location is a path into a Document. Elements are string keys or int
// array indices.
type Location []any

// String renders a location as probable_causes[0].confidence.
func (l Location) String() string {
	var b strings.Builder
	for _, p := range l {
		switch v := p.(type) {
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		case string:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		}
	}
	if b.Len() == 0 {
		return "$"
	}
	return b.String()
}

func (l Location) child(p any) Location {
	out := make(Location, len(l), len(l)+1)
	copy(out, l)
	return append(out, p)
}

// compareLocations orders a before b lexicographically, ints numerically,
// with a prefix ordered before its extensions.
func compareLocations(a, b Location) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := comparePart(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func comparePart(a, b any) int {
	ai, aInt := a.(int)
	bi, bInt := b.(int)
	switch {
	case aInt && bInt:
		return ai - bi
	case aInt:
		return -1
	case bInt:
		return 1
	default:
		return strings.Compare(a.(string), b.(string))
	}
}

// deleteAt removes the key or array element at loc. Returns false when the
// location does not exist.
func deleteAt(doc Document, loc Location) bool {
	if len(loc) == 0 {
		return false
	}
	var parent any = doc
	var grand any
	var grandKey any
	for _, p := range loc[:len(loc)-1] {
		next, ok := step(parent, p)
		if !ok {
			return false
		}
		grand, grandKey, parent = parent, p, next
	}
	last := loc[len(loc)-1]
	switch container := parent.(type) {
	case map[string]any:
		key, ok := last.(string)
		if !ok {
			return false
		}
		if _, exists := container[key]; !exists {
			return false
		}
		delete(container, key)
		return true
	case []any:
		idx, ok := last.(int)
		if !ok || idx < 0 || idx >= len(container) {
			return false
		}
		shrunk := append(container[:idx:idx], container[idx+1:]...)
		return replaceIn(grand, grandKey, shrunk)
	}
	return false
}

func step(container any, p any) (any, bool) {
	switch c := container.(type) {
	case map[string]any:
		key, ok := p.(string)
		if !ok {
			return nil, false
		}
		v, ok := c[key]
		return v, ok
	case []any:
		idx, ok := p.(int)
		if !ok || idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	}
	return nil, false
}

func replaceIn(container any, key any, v any) bool {
	switch c := container.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return false
		}
		c[k] = v
		return true
	case []any:
		idx, ok := key.(int)
		if !ok || idx < 0 || idx >= len(c) {
			return false
		}
		c[idx] = v
		return true
	}
	return false
}

// deepCopy clones a JSON-shaped value.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

// jsonValue converts a typed value to its JSON-shaped form.
func jsonValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
