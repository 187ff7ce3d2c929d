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
	"context"
	"errors"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

const minimalPack = `
id: demo
meta: {version: "0.1.0", locales: [en-US]}
vocab:
  probable_causes_allow: [Angina, Reflux]
  actions_allow: [Go to ER, Rest]
red_flags: [cold sweat]
scores: [{name: NEWS2}]
codes:
  conditions:
    Angina: [{system: CID-10, code: I20.9}]
rules:
  disposition_overrides:
    - when: "spo2 < 92"
      then: {priority: emergent, disposition: ER}
fallback: {priority: urgent, disposition: Clinic same day}
`

// countingFS counts file opens so memoization can be observed.
type countingFS struct {
	fs.FS
	opens atomic.Int32
}

func (c *countingFS) Open(name string) (fs.File, error) {
	c.opens.Add(1)
	return c.FS.Open(name)
}

func TestLoader_Load(t *testing.T) {
	l := NewLoader(fstest.MapFS{"demo.yaml": {Data: []byte(minimalPack)}}, nil)

	p, err := l.Load(context.Background(), "demo")
	require.NoError(t, err)

	assert.Equal(t, "demo", p.ID)
	assert.Equal(t, "Angina", p.FirstCause())
	assert.Equal(t, "Go to ER", p.FirstAction())
	assert.True(t, p.CauseAllowed("Reflux"))
	assert.False(t, p.CauseAllowed("Stroke"))
	assert.True(t, p.ActionAllowed("Rest"))
	assert.Equal(t, []string{"NEWS2"}, p.ScoreNames())
	assert.Equal(t, []schema.Code{{System: schema.CodeSystemCID10, Code: "I20.9"}}, p.CodesFor("Angina"))
	assert.Nil(t, p.CodesFor("Reflux"))
	require.Len(t, p.Rules.DispositionOverrides, 1)
	assert.Equal(t, schema.PriorityEmergent, p.Rules.DispositionOverrides[0].Then.Priority)
}

func TestLoader_NotFound(t *testing.T) {
	l := NewLoader(fstest.MapFS{}, nil)

	for _, id := range []string{"missing", "../etc/passwd", "_selection", ""} {
		_, err := l.Load(context.Background(), id)
		if !errors.Is(err, ErrPackNotFound) {
			t.Errorf("Load(%q) error = %v, want ErrPackNotFound", id, err)
		}
	}
}

func TestLoader_InvalidPack(t *testing.T) {
	tests := map[string]string{
		"bad yaml":            "id: [",
		"empty whitelist":     "id: bad\nmeta: {version: '1'}\nvocab: {probable_causes_allow: [], actions_allow: [x]}\nfallback: {priority: urgent, disposition: ER}",
		"non-urgent fallback": "id: bad\nmeta: {version: '1'}\nvocab: {probable_causes_allow: [a], actions_allow: [x]}\nfallback: {priority: non-urgent, disposition: ER}",
		"bad rule decision":   "id: bad\nmeta: {version: '1'}\nvocab: {probable_causes_allow: [a], actions_allow: [x]}\nrules: {disposition_overrides: [{when: 'hr > 1', then: {priority: soon, disposition: ER}}]}\nfallback: {priority: urgent, disposition: ER}",
		"id mismatch":         "id: other\nmeta: {version: '1'}\nvocab: {probable_causes_allow: [a], actions_allow: [x]}\nfallback: {priority: urgent, disposition: ER}",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			l := NewLoader(fstest.MapFS{"bad.yaml": {Data: []byte(body)}}, nil)
			_, err := l.Load(context.Background(), "bad")
			assert.ErrorIs(t, err, ErrInvalidPack)
		})
	}
}

func TestLoader_LoadsOncePerID(t *testing.T) {
	cfs := &countingFS{FS: fstest.MapFS{"demo.yaml": {Data: []byte(minimalPack)}}}
	l := NewLoader(cfs, nil)

	var wg sync.WaitGroup
	results := make([]*Pack, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := l.Load(context.Background(), "demo")
			if err != nil {
				t.Errorf("Load: %v", err)
				return
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range results[1:] {
		assert.Same(t, results[0], p, "every caller must observe the same pack instance")
	}
	assert.Equal(t, int32(1), cfs.opens.Load())
}

func TestLoader_IDs(t *testing.T) {
	l := NewLoader(fstest.MapFS{
		"b.yaml":          {Data: []byte("x")},
		"a.yml":           {Data: []byte("x")},
		"_selection.yaml": {Data: []byte("x")},
		"notes.txt":       {Data: []byte("x")},
	}, nil)
	ids, err := l.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestEmbeddedPacks_AllLoad(t *testing.T) {
	l := NewLoader(Embedded(), nil)
	ids, err := l.IDs()
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	for _, id := range ids {
		p, err := l.Load(context.Background(), id)
		require.NoError(t, err, id)
		assert.NotEqual(t, schema.PriorityNonUrgent, p.Fallback.Priority, id)
		for label := range p.Codes.Conditions {
			assert.True(t, p.CauseAllowed(label), "%s: coded cause %q not whitelisted", id, label)
		}
	}
}
