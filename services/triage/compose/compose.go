// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compose builds the generation request for a triage: the system
// instruction, the JSON prompt document and the output schema constrained to
// the pack's vocabulary.
package compose

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianTriage/services/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/retrieval"
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
	"github.com/AleutianAI/AleutianTriage/services/triage/textnorm"
)

// SchemaName is the tool name the output schema is submitted under.
const SchemaName = "submit_triage"

// SystemPrompt is the fixed instruction sent with every generation.
const SystemPrompt = "Você é um mecanismo de triagem clínica. " +
	"Responda somente com um objeto JSON que siga o schema fornecido. " +
	"Use apenas rótulos presentes em vocabulary; na dúvida, omita o item. " +
	"Nunca recomende teste de esforço na fase aguda. " +
	"Nunca cite AVC como causa de dor torácica inespecífica. " +
	"Considere os red flags disparados e os escores calculados ao escolher prioridade e destino."

// Options are the sampling settings passed through to the provider.
type Options struct {
	Model       string   `yaml:"model"`
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"top_p"`
	MaxTokens   *int     `yaml:"max_tokens"`
}

// Input is everything a prompt is built from.
type Input struct {
	Pack              *packs.Pack
	Intake            schema.Intake
	Context           schema.Context
	Scores            map[string]float64
	TriggeredRedFlags []string
	Snippets          []retrieval.Snippet
}

// vocabulary lists the labels the reply may use.
type vocabulary struct {
	ProbableCauses     []string `json:"probable_causes"`
	RecommendedActions []string `json:"recommended_actions"`
}

type patient struct {
	Age      *int       `json:"age,omitempty"`
	Sex      schema.Sex `json:"sex"`
	Pregnant *bool      `json:"pregnant,omitempty"`
}

type reference struct {
	Title  string `json:"title"`
	Source string `json:"source,omitempty"`
	Year   int    `json:"year,omitempty"`
	Text   string `json:"text"`
}

// prompt is the user message document. It carries no timestamp so that
// identical triages produce identical prompts.
type prompt struct {
	PackID              string             `json:"pack_id"`
	Locale              schema.Locale      `json:"locale"`
	Complaint           string             `json:"complaint"`
	NormalizedComplaint string             `json:"normalized_complaint"`
	Patient             patient            `json:"patient"`
	Vitals              schema.Vitals      `json:"vitals"`
	Scores              map[string]float64 `json:"scores"`
	TriggeredRedFlags   []string           `json:"triggered_red_flags"`
	Vocabulary          vocabulary         `json:"vocabulary"`
	References          []reference        `json:"references,omitempty"`
}

// Build composes the generation request.
//
// Description:
//
//	The prompt is a JSON document so the model sees the same structure the
//	pipeline reasons over: the complaint (raw and normalized), normalized
//	vitals, computed scores, triggered red flags, the pack vocabulary and
//	any retrieved references. The schema constrains the reply to the
//	sections the model owns.
//
// Inputs:
//   - in: Prompt material. in.Pack must be non-nil.
//   - opts: Sampling settings.
//
// Outputs:
//   - llm.Request: Ready for resilience.Client.GenerateRequest.
//   - error: Non-nil only if the prompt cannot be encoded.
func Build(in Input, opts Options) (llm.Request, error) {
	p := prompt{
		PackID:              in.Pack.ID,
		Locale:              locale(in),
		Complaint:           in.Context.ChiefComplaint,
		NormalizedComplaint: textnorm.Normalize(in.Context.ChiefComplaint),
		Vitals:              in.Context.Vitals,
		Scores:              in.Scores,
		TriggeredRedFlags:   in.TriggeredRedFlags,
		Vocabulary: vocabulary{
			ProbableCauses:     slices.Clone(in.Pack.Vocab.ProbableCausesAllow),
			RecommendedActions: slices.Clone(in.Pack.Vocab.ActionsAllow),
		},
	}
	pt := schema.PatientFromIntake(in.Intake)
	p.Patient = patient{Age: pt.Age, Sex: pt.Sex, Pregnant: pt.Pregnant}
	if p.Scores == nil {
		p.Scores = map[string]float64{}
	}
	if p.TriggeredRedFlags == nil {
		p.TriggeredRedFlags = []string{}
	}
	for _, s := range in.Snippets {
		p.References = append(p.References, reference{Title: s.Title, Source: s.Source, Year: s.Year, Text: s.Text})
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return llm.Request{}, fmt.Errorf("compose: encoding prompt: %w", err)
	}
	return llm.Request{
		Prompt:      string(raw),
		System:      SystemPrompt,
		Model:       opts.Model,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
		Schema:      OutputSchema(in.Pack),
		SchemaName:  SchemaName,
	}, nil
}

func locale(in Input) schema.Locale {
	if in.Intake.Locale.Valid() {
		return in.Intake.Locale
	}
	if len(in.Pack.Meta.Locales) > 0 {
		return in.Pack.Meta.Locales[0]
	}
	return schema.DefaultLocale
}
