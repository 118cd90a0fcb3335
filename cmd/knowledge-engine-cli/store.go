// Package main provides shared graph-store/embedder wiring used by
// every subcommand, mirroring cmd/knowledge-engine-api/router.go's
// backend-selection logic.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/embedding"
	"github.com/metaground/retrieval-engine/internal/graphstore"
)

func openGraphStore(cfg *config.Config) (*graphstore.Store, error) {
	if cfg.Graph.Backend == "postgres" {
		return graphstore.NewPostgresStore(cfg.Graph.Postgres, logger)
	}
	return graphstore.NewSQLiteStore(cfg.Graph.SQLite, logger)
}

func openEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	if cfg.Embedding.APIKey == "" {
		return embedding.NewMockClient(cfg.Embedding.Dimension), nil
	}
	return embedding.NewClient(embedding.Config{
		APIKey:        cfg.Embedding.APIKey,
		Model:         cfg.Embedding.Model,
		BaseURL:       cfg.Embedding.BaseURL,
		Dimension:     cfg.Embedding.Dimension,
		ChunkSize:     cfg.Embedding.ChunkSize,
		MaxConcurrent: cfg.Embedding.MaxConcurrent,
		MaxAttempts:   cfg.Embedding.MaxAttempts,
	})
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode json: %v\n", err)
	}
}
