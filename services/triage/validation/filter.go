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
	"strings"

	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/textnorm"
)

// GlobalBannedTerms apply to every pack in addition to its own list.
var GlobalBannedTerms = []string{"teste de esforço"}

const (
	keyRedFlags           = "red_flags"
	keyProbableCauses     = "probable_causes"
	keyRecommendedActions = "recommended_actions"
)

// itemLists are the document keys holding labeled items.
var itemLists = []string{keyRedFlags, keyProbableCauses, keyRecommendedActions}

// dropped records labels removed by the filters, for the report.
type dropped struct {
	whitelist []string
	banned    []string
}

// enforceWhitelist keeps only causes and actions whose label is in the
// pack's allow-list. Missing lists become empty lists; a value that is not
// an array is left for structural validation.
func enforceWhitelist(doc Document, pack *packs.Pack, d *dropped) {
	filterList(doc, keyProbableCauses, func(label string, ok bool) bool {
		keep := ok && pack.CauseAllowed(label)
		if !keep {
			d.whitelist = append(d.whitelist, label)
		}
		return keep
	})
	filterList(doc, keyRecommendedActions, func(label string, ok bool) bool {
		keep := ok && pack.ActionAllowed(label)
		if !keep {
			d.whitelist = append(d.whitelist, label)
		}
		return keep
	})
}

// prohibitTerms drops items in every list whose normalized label contains a
// normalized banned term.
func prohibitTerms(doc Document, banned []string, d *dropped) {
	for _, key := range itemLists {
		filterList(doc, key, func(label string, _ bool) bool {
			norm := textnorm.Normalize(label)
			for _, term := range banned {
				if strings.Contains(norm, term) {
					d.banned = append(d.banned, label)
					return false
				}
			}
			return true
		})
	}
}

// filterList applies keep to each element of doc[key]. keep receives the
// element's label and whether the element had a string label at all.
func filterList(doc Document, key string, keep func(label string, ok bool) bool) {
	raw, present := doc[key]
	if !present {
		doc[key] = []any{}
		return
	}
	arr, isArray := raw.([]any)
	if !isArray {
		return
	}
	out := make([]any, 0, len(arr))
	for _, e := range arr {
		label, ok := labelOf(e)
		if keep(label, ok) {
			out = append(out, e)
		}
	}
	doc[key] = out
}

func labelOf(e any) (string, bool) {
	obj, ok := e.(map[string]any)
	if !ok {
		return "", false
	}
	label, ok := obj["label"].(string)
	return label, ok
}

// normalizedBanned merges the global and pack banned terms, normalized and
// de-duplicated.
func normalizedBanned(pack *packs.Pack) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{GlobalBannedTerms, pack.BannedTerms} {
		for _, t := range list {
			n := textnorm.Normalize(t)
			if n == "" {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}
