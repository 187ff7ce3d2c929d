// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/services/triage/config"
	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

func TestRunFlags_OnlySetVitalsAreKnown(t *testing.T) {
	cmd := newRunCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--complaint", "dor no peito", "--hr", "110", "--spo2", "0"}))

	var f runFlags
	f.complaint, _ = cmd.Flags().GetString("complaint")
	f.hr, _ = cmd.Flags().GetFloat64("hr")
	f.spo2, _ = cmd.Flags().GetFloat64("spo2")

	in, err := f.intake(cmd.Flags(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "dor no peito", in.Complaint)
	require.NotNil(t, in.Vitals.HR)
	assert.Equal(t, 110.0, *in.Vitals.HR)
	require.NotNil(t, in.Vitals.SpO2, "an explicit zero is still a measurement")
	assert.Nil(t, in.Vitals.SBP)
	assert.Nil(t, in.Age)
}

func TestRunFlags_FileFromStdinWithOverrides(t *testing.T) {
	cmd := newRunCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--file", "-", "--age", "40"}))

	f := runFlags{file: "-", age: 40}
	in, err := f.intake(cmd.Flags(), strings.NewReader(`{"complaint":"febre","vitals":{"temp":38.5}}`))
	require.NoError(t, err)
	assert.Equal(t, "febre", in.Complaint)
	assert.Equal(t, 38.5, *in.Vitals.Temp)
	assert.Equal(t, 40, *in.Age)
}

func TestRunFlags_InvalidIntake(t *testing.T) {
	cmd := newRunCommand()
	require.NoError(t, cmd.ParseFlags(nil))
	var f runFlags
	_, err := f.intake(cmd.Flags(), strings.NewReader(""))
	assert.ErrorContains(t, err, "invalid intake")
}

func TestRunOnce_MockProvider(t *testing.T) {
	t.Setenv("TRIAGE_LLM_PROVIDER", "mock")
	t.Setenv("TRIAGE_LOG_LEVEL", "error")
	t.Setenv("TRIAGE_CONFIG", "")
	configPath = ""

	var out bytes.Buffer
	in := schema.Intake{Complaint: "dor de garganta há dois dias", Age: schema.Int(22)}
	require.NoError(t, runOnce(context.Background(), in, false, &out))

	var o schema.Output
	require.NoError(t, json.Unmarshal(out.Bytes(), &o))
	require.NoError(t, o.Validate())
	assert.NotEmpty(t, o.ProbableCauses)
}

func TestNewHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LogConfig{Level: "info", Format: "auto"}

	slog.New(newHandler(cfg, &buf, false)).Info("hello")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())), "non-terminal output is JSON")

	buf.Reset()
	slog.New(newHandler(cfg, &buf, true)).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")

	buf.Reset()
	cfg.Level = "warn"
	slog.New(newHandler(cfg, &buf, true)).Info("hidden")
	assert.Empty(t, buf.String())
}

func TestListPacks(t *testing.T) {
	var out bytes.Buffer
	loader := packs.NewLoader(packs.Embedded(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, listPacks(context.Background(), loader, &out))
	assert.Contains(t, out.String(), "chest_pain")
	assert.Contains(t, out.String(), "fallback urgent/Clinic same day")

	out.Reset()
	require.NoError(t, printPack(context.Background(), loader, "fever", &out))
	assert.Contains(t, out.String(), "id: fever")
}
