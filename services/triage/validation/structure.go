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
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

// Issue is one validation failure at a document location.
type Issue struct {
	Location Location
	Message  string

	// Missing is set when a required key is absent, or present but empty
	// inside an array element. Deleting the key cannot satisfy it, so repair
	// removes the nearest enclosing array element instead.
	Missing bool
}

func (i Issue) String() string {
	return i.Location.String() + ": " + i.Message
}

// =============================================================================
// Structural Walk
// =============================================================================

var (
	timeType = reflect.TypeOf(time.Time{})

	fieldCache sync.Map // reflect.Type -> map[string]fieldInfo
)

type fieldInfo struct {
	typ       reflect.Type
	omitEmpty bool
}

// fieldsOf returns the JSON-visible fields of a struct type by JSON name.
func fieldsOf(t reflect.Type) map[string]fieldInfo {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(map[string]fieldInfo)
	}
	fields := make(map[string]fieldInfo, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		fields[name] = fieldInfo{typ: f.Type, omitEmpty: strings.Contains(opts, "omitempty")}
	}
	fieldCache.Store(t, fields)
	return fields
}

// checkStructure walks v against t and reports unknown keys, missing
// required keys and JSON type mismatches.
func checkStructure(v any, t reflect.Type, loc Location, issues *[]Issue) {
	if t == timeType {
		s, ok := v.(string)
		if !ok {
			*issues = append(*issues, Issue{Location: loc, Message: "expected RFC 3339 timestamp string"})
			return
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			*issues = append(*issues, Issue{Location: loc, Message: "invalid timestamp"})
		}
		return
	}

	switch t.Kind() {
	case reflect.Pointer:
		if v == nil {
			return
		}
		checkStructure(v, t.Elem(), loc, issues)

	case reflect.Struct:
		obj, ok := v.(map[string]any)
		if !ok {
			*issues = append(*issues, Issue{Location: loc, Message: "expected object"})
			return
		}
		fields := fieldsOf(t)
		for key, val := range obj {
			fi, known := fields[key]
			if !known {
				*issues = append(*issues, Issue{Location: loc.child(key), Message: "unknown field"})
				continue
			}
			checkStructure(val, fi.typ, loc.child(key), issues)
		}
		for name, fi := range fields {
			if fi.omitEmpty {
				continue
			}
			if _, present := obj[name]; !present {
				*issues = append(*issues, Issue{Location: loc.child(name), Message: "field required", Missing: true})
			}
		}

	case reflect.Slice:
		arr, ok := v.([]any)
		if !ok {
			*issues = append(*issues, Issue{Location: loc, Message: "expected array"})
			return
		}
		for i, e := range arr {
			checkStructure(e, t.Elem(), loc.child(i), issues)
		}

	case reflect.Map:
		obj, ok := v.(map[string]any)
		if !ok {
			*issues = append(*issues, Issue{Location: loc, Message: "expected object"})
			return
		}
		for key, val := range obj {
			checkStructure(val, t.Elem(), loc.child(key), issues)
		}

	case reflect.String:
		if _, ok := v.(string); !ok {
			*issues = append(*issues, Issue{Location: loc, Message: "expected string"})
		}

	case reflect.Bool:
		if _, ok := v.(bool); !ok {
			*issues = append(*issues, Issue{Location: loc, Message: "expected boolean"})
		}

	case reflect.Float32, reflect.Float64:
		if _, ok := number(v); !ok {
			*issues = append(*issues, Issue{Location: loc, Message: "expected number"})
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := number(v)
		if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			*issues = append(*issues, Issue{Location: loc, Message: "expected integer"})
		}
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// =============================================================================
// Decoding
// =============================================================================

var outputType = reflect.TypeOf(schema.Output{})

// decode turns a document into a schema.Output. On failure it returns the
// issues found: structural ones first, value constraints only once the
// structure is sound.
func decode(doc Document) (schema.Output, []Issue) {
	var issues []Issue
	checkStructure(doc, outputType, nil, &issues)
	if len(issues) > 0 {
		return schema.Output{}, issues
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return schema.Output{}, []Issue{{Message: "encoding document: " + err.Error()}}
	}
	var out schema.Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return schema.Output{}, []Issue{{Message: "decoding document: " + err.Error()}}
	}
	if err := out.Validate(); err != nil {
		return schema.Output{}, validationIssues(err)
	}
	return out, nil
}

// validationIssues maps validator errors onto document locations. The
// namespace "Output.probable_causes[0].confidence" becomes the location
// probable_causes[0].confidence.
func validationIssues(err error) []Issue {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{Message: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		loc := parseNamespace(fe.Namespace())
		msg := fmt.Sprintf("failed %q constraint", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q constraint (%s)", fe.Tag(), fe.Param())
		}
		// An empty required value inside an element, such as a blank label,
		// is as unrecoverable as an absent one.
		missing := fe.Tag() == "required" && enclosingElement(loc) != nil
		issues = append(issues, Issue{Location: loc, Message: msg, Missing: missing})
	}
	return issues
}

func parseNamespace(ns string) Location {
	parts := strings.Split(ns, ".")
	if len(parts) > 0 {
		parts = parts[1:] // root type name
	}
	var loc Location
	for _, part := range parts {
		name, rest, hasIndex := strings.Cut(part, "[")
		if name != "" {
			loc = append(loc, name)
		}
		for hasIndex {
			var idx string
			idx, rest, _ = strings.Cut(rest, "]")
			var n int
			if _, err := fmt.Sscanf(idx, "%d", &n); err == nil {
				loc = append(loc, n)
			} else {
				loc = append(loc, idx)
			}
			_, rest, hasIndex = strings.Cut(rest, "[")
		}
	}
	return loc
}
