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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

// runFlags holds the intake given on the command line.
type runFlags struct {
	file       string
	complaint  string
	refinement string
	age        int
	sex        string
	pregnant   bool
	packID     string
	locale     string
	hr         float64
	sbp        float64
	dbp        float64
	temp       float64
	spo2       float64
	rr         float64
	gcs        float64
	withMeta   bool
}

func newRunCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Triage one intake and print the result as JSON",
		Long: "Triage one intake read from --file (\"-\" for stdin) or built from flags.\n" +
			"Vital-sign flags that are not given stay unknown.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := f.intake(cmd.Flags(), cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runOnce(ctx, in, f.withMeta, cmd.OutOrStdout())
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "Intake JSON file, or - for stdin")
	fl.StringVar(&f.complaint, "complaint", "", "Chief complaint")
	fl.StringVar(&f.refinement, "refinement", "", "Follow-up answer appended to the complaint")
	fl.IntVar(&f.age, "age", 0, "Age in years")
	fl.StringVar(&f.sex, "sex", "", "male, female or unknown")
	fl.BoolVar(&f.pregnant, "pregnant", false, "Pregnancy status")
	fl.StringVar(&f.packID, "pack", "", "Pack id (default: selected from the complaint)")
	fl.StringVar(&f.locale, "locale", "", "Output locale (pt-BR, pt-PT, en-US)")
	fl.Float64Var(&f.hr, "hr", 0, "Heart rate (bpm)")
	fl.Float64Var(&f.sbp, "sbp", 0, "Systolic blood pressure (mmHg)")
	fl.Float64Var(&f.dbp, "dbp", 0, "Diastolic blood pressure (mmHg)")
	fl.Float64Var(&f.temp, "temp", 0, "Temperature (°C, °F is converted)")
	fl.Float64Var(&f.spo2, "spo2", 0, "Oxygen saturation (% or fraction)")
	fl.Float64Var(&f.rr, "rr", 0, "Respiratory rate (breaths/min)")
	fl.Float64Var(&f.gcs, "gcs", 0, "Glasgow coma scale (3-15)")
	fl.BoolVar(&f.withMeta, "metadata", false, "Print pipeline metadata alongside the output")
	return cmd
}

// intake builds the intake from --file or the individual flags. Only flags
// the user set are copied, so absent vitals stay unknown.
func (f *runFlags) intake(fl *pflag.FlagSet, stdin io.Reader) (schema.Intake, error) {
	var in schema.Intake
	if f.file != "" {
		var r io.Reader = stdin
		if f.file != "-" {
			file, err := os.Open(f.file)
			if err != nil {
				return in, fmt.Errorf("opening intake: %w", err)
			}
			defer file.Close()
			r = file
		}
		if err := json.NewDecoder(r).Decode(&in); err != nil {
			return in, fmt.Errorf("decoding intake: %w", err)
		}
	}

	if fl.Changed("complaint") {
		in.Complaint = f.complaint
	}
	if fl.Changed("refinement") {
		in.Refinement = f.refinement
	}
	if fl.Changed("age") {
		in.Age = schema.Int(f.age)
	}
	if fl.Changed("sex") {
		in.Sex = schema.Sex(f.sex)
	}
	if fl.Changed("pregnant") {
		in.Pregnant = schema.Bool(f.pregnant)
	}
	if fl.Changed("pack") {
		in.PackID = f.packID
	}
	if fl.Changed("locale") {
		in.Locale = schema.Locale(f.locale)
	}
	vitals := []struct {
		name string
		val  float64
		dst  **float64
	}{
		{"hr", f.hr, &in.Vitals.HR},
		{"sbp", f.sbp, &in.Vitals.SBP},
		{"dbp", f.dbp, &in.Vitals.DBP},
		{"temp", f.temp, &in.Vitals.Temp},
		{"spo2", f.spo2, &in.Vitals.SpO2},
		{"rr", f.rr, &in.Vitals.RR},
		{"gcs", f.gcs, &in.Vitals.GCS},
	}
	for _, v := range vitals {
		if fl.Changed(v.name) {
			*v.dst = schema.Float(v.val)
		}
	}

	if err := in.Validate(); err != nil {
		return in, fmt.Errorf("invalid intake: %w", err)
	}
	return in, nil
}

func runOnce(ctx context.Context, in schema.Intake, withMeta bool, w io.Writer) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.orch.Triage(ctx, in, "")
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if withMeta {
		return enc.Encode(res)
	}
	return enc.Encode(res.Output)
}
