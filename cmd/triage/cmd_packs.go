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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTriage/services/triage/config"
	"github.com/AleutianAI/AleutianTriage/services/triage/packs"
)

func newPacksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "packs [id]",
		Short: "List packs, or print one pack after validation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			loader := packs.NewLoader(packFS(cfg.Packs), newLogger(cfg.Log, os.Stderr))
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if len(args) == 1 {
				return printPack(ctx, loader, args[0], cmd.OutOrStdout())
			}
			return listPacks(ctx, loader, cmd.OutOrStdout())
		},
	}
}

// listPacks prints one line per pack. Packs that fail validation are listed
// with the reason instead of aborting the listing.
func listPacks(ctx context.Context, loader *packs.Loader, w io.Writer) error {
	ids, err := loader.IDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		p, err := loader.Load(ctx, id)
		if err != nil {
			fmt.Fprintf(w, "%-16s INVALID  %v\n", id, err)
			continue
		}
		fmt.Fprintf(w, "%-16s v%-8s %d rules, %d red flags, fallback %s/%s\n",
			id, p.Meta.Version, len(p.Rules.DispositionOverrides), len(p.RedFlags),
			p.Fallback.Priority, p.Fallback.Disposition)
	}
	return nil
}

func printPack(ctx context.Context, loader *packs.Loader, id string, w io.Writer) error {
	p, err := loader.Load(ctx, id)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encoding pack: %w", err)
	}
	return enc.Close()
}
