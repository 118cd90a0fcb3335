// Package main provides the pipeline subcommand: runs the context
// pipeline's stage graph end-to-end, or one stage at a time, against a
// named session.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/metaground/retrieval-engine/internal/llmclient"
	"github.com/metaground/retrieval-engine/internal/pipeline"
	"github.com/metaground/retrieval-engine/internal/pipeline/prompt"
	"github.com/metaground/retrieval-engine/internal/pipeline/stages"
	"github.com/metaground/retrieval-engine/internal/retrieval"
	"github.com/metaground/retrieval-engine/internal/retry"
)

func newPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run the query-context pipeline end-to-end or one stage at a time",
	}
	cmd.AddCommand(newPipelineRunCmd())
	cmd.AddCommand(newPipelineStageCmd())
	return cmd
}

func openPipelineStore() (pipeline.Store, func() error, error) {
	if cfg.Pipeline.StateStore == "sqlite" {
		db, err := sql.Open("sqlite3", cfg.Pipeline.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		st, err := pipeline.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, db.Close, nil
	}
	dir := cfg.Pipeline.SessionDir
	if dir == "" {
		dir = "./data/sessions"
	}
	st, err := pipeline.NewFileStore(dir)
	if err != nil {
		return nil, nil, err
	}
	return st, func() error { return nil }, nil
}

func buildStageDeps() (stages.Deps, func() error, error) {
	store, err := openGraphStore(cfg)
	if err != nil {
		return stages.Deps{}, nil, fmt.Errorf("open graph store: %w", err)
	}
	embedder, err := openEmbedder(cfg)
	if err != nil {
		store.Close()
		return stages.Deps{}, nil, fmt.Errorf("init embedder: %w", err)
	}
	retrievalEngine := retrieval.New(store, embedder, cfg.Retrieval, logger)

	filterModelCfg, ok := cfg.LLM.Models[cfg.LLM.FilterModel]
	if !ok {
		store.Close()
		return stages.Deps{}, nil, fmt.Errorf("llm model %q (filter_model) not configured", cfg.LLM.FilterModel)
	}
	extendModelCfg, ok := cfg.LLM.Models[cfg.LLM.ExtendModel]
	if !ok {
		store.Close()
		return stages.Deps{}, nil, fmt.Errorf("llm model %q (extend_model) not configured", cfg.LLM.ExtendModel)
	}

	promptDir := cfg.Pipeline.PromptDir
	if promptDir == "" {
		promptDir = "./prompts"
	}

	deps := stages.Deps{
		Retrieval: retrievalEngine,
		FilterLLM: llmclient.New(filterModelCfg, retry.DefaultPolicy()),
		ExtendLLM: llmclient.New(extendModelCfg, retry.DefaultPolicy()),
		Store:     store,
		Prompts:   prompt.NewLoader(promptDir),
		Pipeline:  cfg.Pipeline,
		Logger:    logger,
	}
	return deps, store.Close, nil
}

func newPipelineRunCmd() *cobra.Command {
	var (
		sessionID string
		dbCode    string
		query     string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full default stage graph for one query against one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbCode == "" || query == "" {
				return newCliError(exitValidation, fmt.Errorf("--db and --query are required"))
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			deps, closeFn, err := buildStageDeps()
			if err != nil {
				return newCliError(exitIO, err)
			}
			defer closeFn()

			stateStore, closeStore, err := openPipelineStore()
			if err != nil {
				return newCliError(exitIO, err)
			}
			defer closeStore()

			runtime := pipeline.NewRuntime(stateStore)
			initial := pipeline.State{DBCode: dbCode, Query: query}

			final, err := runtime.Run(ctx, sessionID, initial, deps.Bind(), stages.DefaultStageOrder)
			if err != nil {
				return newCliError(exitIO, err)
			}

			ui.Success("session %s complete (%d tables in col_map)", sessionID, len(final.ColMap))
			printJSON(final)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: a new random id)")
	cmd.Flags().StringVar(&dbCode, "db", "", "db_code (required)")
	cmd.Flags().StringVar(&query, "query", "", "natural-language query (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall pipeline timeout")
	return cmd
}

func newPipelineStageCmd() *cobra.Command {
	var (
		sessionID string
		stage     string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Run a single named pipeline stage against an existing session",
		Long: `stage re-runs one stage of the default graph (add_context, recall_knowledge,
filter_knowledge, extend_column, extend_cell, recall_column, recall_cell,
merge_col_cell, add_kn_col, filter_tb_col) against a session's current
persisted state, writing only that stage's delta back. Resumable by design:
re-running the same stage with unchanged state and inputs is idempotent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := stages.Registry[stage]; !ok {
				return newCliError(exitValidation, fmt.Errorf("unknown stage %q", stage))
			}
			if sessionID == "" {
				return newCliError(exitValidation, fmt.Errorf("--session is required"))
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			deps, closeFn, err := buildStageDeps()
			if err != nil {
				return newCliError(exitIO, err)
			}
			defer closeFn()

			stateStore, closeStore, err := openPipelineStore()
			if err != nil {
				return newCliError(exitIO, err)
			}
			defer closeStore()

			runtime := pipeline.NewRuntime(stateStore)
			bound := deps.Bind()[stage]

			final, err := runtime.RunOne(ctx, sessionID, stage, bound)
			if err != nil {
				return newCliError(exitIO, err)
			}

			ui.Success("stage %s complete for session %s", stage, sessionID)
			printJSON(final)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (required)")
	cmd.Flags().StringVar(&stage, "name", "", "stage name (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "stage timeout")
	cmd.MarkFlagRequired("name")
	return cmd
}
