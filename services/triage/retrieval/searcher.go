// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval supplies reference snippets that give the generator
// clinical context. The default Searcher ranks an embedded YAML knowledge
// base with BM25.
package retrieval

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/kb.yaml
var embedded embed.FS

// DefaultTopK is used when a search asks for a non-positive count.
const DefaultTopK = 3

// ErrEmptyKnowledgeBase is returned when a knowledge base has no entries.
var ErrEmptyKnowledgeBase = errors.New("retrieval: knowledge base has no entries")

// Entry is one knowledge-base document.
type Entry struct {
	ID     string   `yaml:"id"`
	Title  string   `yaml:"title"`
	Source string   `yaml:"source"`
	Year   int      `yaml:"year"`
	Tags   []string `yaml:"tags"`
	Text   string   `yaml:"text"`
}

func (e Entry) document() string {
	return e.Title + " " + strings.Join(e.Tags, " ") + " " + e.Text
}

// Snippet is a ranked search hit.
type Snippet struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Source string  `json:"source,omitempty"`
	Year   int     `json:"year,omitempty"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// Searcher finds snippets relevant to a query.
//
// Implementations must honor ctx cancellation and be safe for concurrent use.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Snippet, error)
}

// =============================================================================
// Knowledge Base Loading
// =============================================================================

type kbFile struct {
	Entries []Entry `yaml:"entries"`
}

// LoadKnowledgeBase reads entries from a YAML file. An empty path loads the
// embedded knowledge base.
func LoadKnowledgeBase(path string) ([]Entry, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = fs.ReadFile(embedded, "data/kb.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: reading knowledge base: %w", err)
	}
	var f kbFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("retrieval: parsing knowledge base: %w", err)
	}
	if len(f.Entries) == 0 {
		return nil, ErrEmptyKnowledgeBase
	}
	for i := range f.Entries {
		f.Entries[i].Text = strings.TrimSpace(f.Entries[i].Text)
	}
	return f.Entries, nil
}

// =============================================================================
// BM25 Searcher
// =============================================================================

// BM25Searcher ranks knowledge-base entries with Okapi BM25.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type BM25Searcher struct {
	entries []Entry
	index   *index
}

// NewBM25Searcher indexes entries.
func NewBM25Searcher(entries []Entry) *BM25Searcher {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &BM25Searcher{entries: cp, index: buildIndex(cp)}
}

// Search returns up to topK entries by descending BM25 score, ties broken by
// entry ID. Scores are normalized to (0, 1] against the best hit. Entries
// sharing no term with the query are never returned.
func (s *BM25Searcher) Search(ctx context.Context, query string, topK int) ([]Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	scores := s.index.score(query)
	if len(scores) == 0 {
		return nil, nil
	}

	hits := make([]Snippet, 0, len(scores))
	var best float64
	for pos, sc := range scores {
		e := s.entries[pos]
		hits = append(hits, Snippet{ID: e.ID, Title: e.Title, Source: e.Source, Year: e.Year, Text: e.Text, Score: sc})
		best = max(best, sc)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	for i := range hits {
		hits[i].Score /= best
	}
	return hits, nil
}
