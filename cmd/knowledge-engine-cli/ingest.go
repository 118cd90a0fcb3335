// Package main provides the ingest subcommand: introspects every
// registered database (or a selected subset) and upserts its schema,
// knowledge, and cell metadata into the graph store.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var (
		dbCodes []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest registered databases' metadata into the graph store",
		Long: `ingest introspects each registered database's tables, columns, and
foreign keys, samples fewshot cell exemplars, ingests curated knowledge,
streams cell values for the sync-set of columns, embeds every atom, and
upserts the result into the graph store.

Per-table failures are logged and skipped; they do not abort the run.
A failure to reach the graph store at all is fatal (exit 2).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			defer ui.Close()

			store, err := openGraphStore(cfg)
			if err != nil {
				return newCliError(exitIO, fmt.Errorf("open graph store: %w", err))
			}
			defer store.Close()

			if err := store.EnsureSchema(ctx); err != nil {
				return newCliError(exitIO, fmt.Errorf("ensure schema: %w", err))
			}

			embedder, err := openEmbedder(cfg)
			if err != nil {
				return newCliError(exitIO, fmt.Errorf("init embedder: %w", err))
			}

			targets, err := selectDatabases(cfg.Databases, dbCodes)
			if err != nil {
				return newCliError(exitValidation, err)
			}

			pipeline := ingest.New(store, embedder, cfg.Ingestion, logger)

			results := make(map[string]string, len(targets))
			for _, dbCfg := range targets {
				bar := ui.Spinner(dbCfg.DBCode)
				ui.Step("ingesting database %s (%s, %d tables, %d knowledge)", dbCfg.DBCode, dbCfg.DBType, len(dbCfg.Tables), len(dbCfg.Knowledge))

				if err := pipeline.IngestDatabase(ctx, dbCfg); err != nil {
					ui.Error("ingest %s: %v", dbCfg.DBCode, err)
					results[dbCfg.DBCode] = "error: " + err.Error()
					continue
				}
				if bar != nil {
					bar.SetCurrent(100)
				}
				ui.Success("ingested %s", dbCfg.DBCode)
				results[dbCfg.DBCode] = "ok"
			}

			if outputJSON {
				printJSON(results)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&dbCodes, "db", nil, "db_code(s) to ingest (repeatable; default: all registered databases)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall ingestion timeout")
	return cmd
}

// selectDatabases filters cfg's registered databases down to codes, or
// returns all of them if codes is empty. An unknown code is a
// validation error (spec §6 exit code 1).
func selectDatabases(all []config.SourceDBConfig, codes []string) ([]config.SourceDBConfig, error) {
	if len(codes) == 0 {
		return all, nil
	}
	byCode := make(map[string]config.SourceDBConfig, len(all))
	for _, d := range all {
		byCode[d.DBCode] = d
	}
	out := make([]config.SourceDBConfig, 0, len(codes))
	for _, c := range codes {
		d, ok := byCode[c]
		if !ok {
			return nil, fmt.Errorf("unknown db_code %q", c)
		}
		out = append(out, d)
	}
	return out, nil
}
