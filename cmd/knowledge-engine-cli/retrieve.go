// Package main provides the retrieve subcommand: ad hoc
// retrieve_knowledge / retrieve_column / retrieve_cell queries against
// the graph store, useful for debugging ingestion and tuning without
// standing up the HTTP API.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/metaground/retrieval-engine/internal/retrieval"
)

func newRetrieveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Run an ad hoc retrieval query against a db_code",
	}
	cmd.AddCommand(newRetrieveKnowledgeCmd())
	cmd.AddCommand(newRetrieveColumnCmd())
	cmd.AddCommand(newRetrieveCellCmd())
	return cmd
}

func newRetrieveEngine() (*retrieval.Engine, func() error, error) {
	store, err := openGraphStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open graph store: %w", err)
	}
	embedder, err := openEmbedder(cfg)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("init embedder: %w", err)
	}
	engine := retrieval.New(store, embedder, cfg.Retrieval, logger)
	return engine, store.Close, nil
}

func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func newRetrieveKnowledgeCmd() *cobra.Command {
	var dbCode, query, keywords string
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "retrieve_knowledge: hybrid-search business knowledge",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			engine, closeFn, err := newRetrieveEngine()
			if err != nil {
				return newCliError(exitIO, err)
			}
			defer closeFn()

			result, err := engine.RetrieveKnowledge(ctx, dbCode, query, splitKeywords(keywords))
			if err != nil {
				return newCliError(exitIO, err)
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbCode, "db", "", "db_code (required)")
	cmd.Flags().StringVar(&query, "query", "", "natural-language query (required)")
	cmd.Flags().StringVar(&keywords, "keywords", "", "comma-separated keywords")
	cmd.MarkFlagRequired("db")
	cmd.MarkFlagRequired("query")
	return cmd
}

func newRetrieveColumnCmd() *cobra.Command {
	var dbCode, keywords string
	cmd := &cobra.Command{
		Use:   "column",
		Short: "retrieve_column: dense-search candidate columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			engine, closeFn, err := newRetrieveEngine()
			if err != nil {
				return newCliError(exitIO, err)
			}
			defer closeFn()

			result, err := engine.RetrieveColumn(ctx, dbCode, splitKeywords(keywords))
			if err != nil {
				return newCliError(exitIO, err)
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbCode, "db", "", "db_code (required)")
	cmd.Flags().StringVar(&keywords, "keywords", "", "comma-separated keywords (required)")
	cmd.MarkFlagRequired("db")
	cmd.MarkFlagRequired("keywords")
	return cmd
}

func newRetrieveCellCmd() *cobra.Command {
	var dbCode, keywords string
	cmd := &cobra.Command{
		Use:   "cell",
		Short: "retrieve_cell: hybrid-search candidate cell values",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			engine, closeFn, err := newRetrieveEngine()
			if err != nil {
				return newCliError(exitIO, err)
			}
			defer closeFn()

			result, err := engine.RetrieveCell(ctx, dbCode, splitKeywords(keywords))
			if err != nil {
				return newCliError(exitIO, err)
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbCode, "db", "", "db_code (required)")
	cmd.Flags().StringVar(&keywords, "keywords", "", "comma-separated keywords (required)")
	cmd.MarkFlagRequired("db")
	cmd.MarkFlagRequired("keywords")
	return cmd
}
