// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"math"

	"github.com/AleutianAI/AleutianTriage/services/triage/textnorm"
)

// =============================================================================
// BM25 Index
// =============================================================================

// BM25 tuning constants (Robertson et al. defaults).
const (
	// bm25K1 controls term frequency saturation.
	bm25K1 = 1.5

	// bm25B controls document length normalization. 0 disables it.
	bm25B = 0.75
)

// stopwords are dropped from documents and queries. Short Portuguese and
// English function words only; clinical vocabulary is never listed here.
var stopwords = map[string]struct{}{
	"a": {}, "o": {}, "as": {}, "os": {}, "de": {}, "da": {}, "do": {}, "das": {}, "dos": {},
	"e": {}, "em": {}, "no": {}, "na": {}, "nos": {}, "nas": {}, "um": {}, "uma": {},
	"com": {}, "sem": {}, "por": {}, "para": {}, "ao": {}, "aos": {}, "que": {}, "se": {},
	"ou": {}, "ha": {}, "mais": {}, "deve": {}, "ser": {}, "pode": {},
	"the": {}, "and": {}, "of": {}, "in": {}, "with": {}, "for": {}, "to": {},
}

// terms tokenizes text for indexing and querying. Duplicates are kept so
// term frequency is real.
func terms(text string) []string {
	toks := textnorm.Tokens(text)
	out := toks[:0]
	for _, t := range toks {
		if len(t) < 2 {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

type bm25Doc struct {
	// pos is the entry's position in the knowledge base.
	pos int

	tf  map[string]int
	len int
}

// index is an inverted BM25 index over knowledge-base entries.
//
// Thread Safety: Immutable after buildIndex; safe for concurrent use.
type index struct {
	docs   []bm25Doc
	idf    map[string]float64
	avgLen float64
}

// buildIndex indexes each entry's title, tags and text. IDF uses
// Lucene-style add-one smoothing: log((N+1)/(df+1)) + 1.
func buildIndex(entries []Entry) *index {
	idx := &index{idf: make(map[string]float64)}
	if len(entries) == 0 {
		return idx
	}

	df := make(map[string]int)
	total := 0
	for i, e := range entries {
		doc := bm25Doc{pos: i, tf: make(map[string]int)}
		for _, t := range terms(e.document()) {
			doc.tf[t]++
			doc.len++
		}
		for t := range doc.tf {
			df[t]++
		}
		total += doc.len
		idx.docs = append(idx.docs, doc)
	}

	n := len(idx.docs)
	idx.avgLen = float64(total) / float64(n)
	for t, f := range df {
		idx.idf[t] = math.Log(float64(n+1)/float64(f+1)) + 1.0
	}
	return idx
}

// score returns the raw BM25 score of every document matching the query,
// keyed by entry position. Documents scoring zero are omitted.
func (idx *index) score(query string) map[int]float64 {
	out := make(map[int]float64)
	if len(idx.docs) == 0 {
		return out
	}
	qterms := make(map[string]struct{})
	for _, t := range terms(query) {
		qterms[t] = struct{}{}
	}
	if len(qterms) == 0 {
		return out
	}

	for _, doc := range idx.docs {
		var s float64
		lengthNorm := bm25K1 * (1.0 - bm25B + bm25B*float64(doc.len)/idx.avgLen)
		for t := range qterms {
			tf, ok := doc.tf[t]
			if !ok {
				continue
			}
			f := float64(tf)
			s += idx.idf[t] * (f * (bm25K1 + 1)) / (f + lengthNorm)
		}
		if s > 0 {
			out[doc.pos] = s
		}
	}
	return out
}
