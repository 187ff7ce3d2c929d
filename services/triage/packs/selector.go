// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package packs

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
	"github.com/AleutianAI/AleutianTriage/services/triage/textnorm"
)

// SelectionFile is the name of the synonym table inside a pack file system.
const SelectionFile = "_selection.yaml"

// SelectionEntry maps complaint phrases to a pack.
type SelectionEntry struct {
	Pack    string   `yaml:"pack" validate:"required"`
	Phrases []string `yaml:"phrases" validate:"min=1,dive,required"`
}

type selectionTable struct {
	Default string           `yaml:"default" validate:"required"`
	Entries []SelectionEntry `yaml:"entries" validate:"dive"`
}

// Selector chooses the pack for an intake from its complaint text.
//
// Description:
//
//	Entries are tried in declared order; the first entry with a phrase whose
//	tokens appear as a contiguous run of the complaint's tokens wins. An
//	explicit pack id on the intake always takes precedence, and the default
//	pack is used when nothing matches.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Selector struct {
	defaultPack string
	entries     []SelectionEntry
}

// NewSelector reads the selection table from fsys.
//
// Inputs:
//   - fsys: Pack file system containing _selection.yaml.
//   - defaultOverride: When non-empty, replaces the table's default pack.
//
// Outputs:
//   - *Selector: The selector.
//   - error: Non-nil when the table is missing or malformed.
func NewSelector(fsys fs.FS, defaultOverride string) (*Selector, error) {
	raw, err := fs.ReadFile(fsys, SelectionFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("packs: reading selection table: %w", err)
	}
	var table selectionTable
	if err == nil {
		if err := yaml.Unmarshal(raw, &table); err != nil {
			return nil, fmt.Errorf("packs: parsing selection table: %w", err)
		}
	}
	if defaultOverride != "" {
		table.Default = defaultOverride
	}
	if err := schema.Validator().Struct(&table); err != nil {
		return nil, fmt.Errorf("packs: selection table: %w", err)
	}

	entries := make([]SelectionEntry, 0, len(table.Entries))
	for _, e := range table.Entries {
		phrases := make([]string, 0, len(e.Phrases))
		for _, ph := range e.Phrases {
			if n := strings.Join(textnorm.Tokens(ph), " "); n != "" {
				phrases = append(phrases, n)
			}
		}
		entries = append(entries, SelectionEntry{Pack: e.Pack, Phrases: phrases})
	}
	return &Selector{defaultPack: table.Default, entries: entries}, nil
}

// Select returns the pack identifier for in.
func (s *Selector) Select(in schema.Intake) string {
	if id := strings.TrimSpace(in.PackID); id != "" {
		return id
	}
	text := " " + strings.Join(textnorm.Tokens(in.Complaint+" "+in.Refinement), " ") + " "
	for _, e := range s.entries {
		for _, ph := range e.Phrases {
			if strings.Contains(text, " "+ph+" ") {
				return e.Pack
			}
		}
	}
	return s.defaultPack
}

// Default returns the pack used when no phrase matches.
func (s *Selector) Default() string {
	return s.defaultPack
}
