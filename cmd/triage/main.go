// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command triage runs the clinical triage decision pipeline.
//
// Usage:
//
//	triage serve --config triage.yaml
//	triage run --complaint "dor no peito, sudorese" --hr 110 --sbp 88 --spo2 91
//	triage run --file intake.json
//	triage packs
//	triage packs chest_pain
//
// Offline, with the deterministic mock generator:
//
//	TRIAGE_LLM_PROVIDER=mock triage run --complaint "febre há 3 dias" --temp 38.9
//
// Example requests against a running server:
//
//	curl http://localhost:8090/v1/health
//
//	curl -X POST http://localhost:8090/v1/triage \
//	  -H "Content-Type: application/json" \
//	  -d '{"complaint": "dor de garganta", "age": 24, "vitals": {"temp": 38.4}}'
package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

// configPath holds the --config flag shared by every command.
var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "triage",
		Short:         "Clinical triage decision pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TRIAGE_CONFIG"),
		"YAML configuration file (env TRIAGE_CONFIG)")

	root.AddCommand(newServeCommand(), newRunCommand(), newPacksCommand())
	return root
}

func main() {
	err := newRootCommand().Execute()
	// Destroys sealed API keys before the process exits.
	memguard.Purge()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
