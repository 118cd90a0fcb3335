// Package main provides the API router setup.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/metaground/retrieval-engine/cmd/knowledge-engine-api/handlers"
	"github.com/metaground/retrieval-engine/cmd/knowledge-engine-api/middleware"
	"github.com/metaground/retrieval-engine/internal/auth"
	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/embedding"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/ingest"
	"github.com/metaground/retrieval-engine/internal/observability"
	"github.com/metaground/retrieval-engine/internal/retrieval"
)

// AppConfig holds request-scoped HTTP server tuning on top of the
// structured config.Config.
type AppConfig struct {
	RequestTimeout time.Duration
}

// NewRouter wires every component map entry into the /api/v1 HTTP
// surface (spec §6): the graph store, embedding client, retrieval
// engine, and auth service, behind scope-gated routes. Pipeline-stage
// invocation lives in cmd/knowledge-engine-cli, not here — no HTTP
// route in spec §6 exercises the stage runtime directly.
func NewRouter(logger *observability.Logger, appCfg *AppConfig, cfg *config.Config) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(appCfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`"live"`))
	})

	store, err := newGraphStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	retrievalEngine := retrieval.New(store, embedder, cfg.Retrieval, logger)
	ingestPipeline := ingest.New(store, embedder, cfg.Ingestion, logger)

	authService, tokenIssuer, err := buildAuthService(cfg, logger)
	if err != nil {
		return nil, err
	}

	authHandler := handlers.NewAuthHandler(logger, authService)
	metadataHandler := handlers.NewMetadataHandler(logger, store, ingestPipeline, cfg.Databases)
	retrievalHandler := handlers.NewRetrievalHandler(logger, retrievalEngine)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
		})

		r.Route("/metadata", func(r chi.Router) {
			r.With(auth.RequireScopes(tokenIssuer, string(auth.ScopeSaveMetadata))).
				Post("/save_metadata", metadataHandler.SaveMetadata)
			r.With(auth.RequireScopes(tokenIssuer, string(auth.ScopeClearMetadata))).
				Post("/clear_metadata", metadataHandler.ClearMetadata)
			r.With(auth.RequireScopes(tokenIssuer, string(auth.ScopeGetTable))).
				Post("/get_table", metadataHandler.GetTable)
			r.With(auth.RequireScopes(tokenIssuer, string(auth.ScopeGetColumn))).
				Post("/get_column", metadataHandler.GetColumn)
			r.With(auth.RequireScopes(tokenIssuer, string(auth.ScopeRetrieveKnowledge))).
				Post("/retrieve_knowledge", retrievalHandler.RetrieveKnowledge)
			r.With(auth.RequireScopes(tokenIssuer, string(auth.ScopeRetrieveColumn))).
				Post("/retrieve_column", retrievalHandler.RetrieveColumn)
			r.With(auth.RequireScopes(tokenIssuer, string(auth.ScopeRetrieveCell))).
				Post("/retrieve_cell", retrievalHandler.RetrieveCell)
		})
	})

	return r, nil
}

func newGraphStore(cfg *config.Config, logger *observability.Logger) (*graphstore.Store, error) {
	if cfg.Graph.Backend == "postgres" {
		return graphstore.NewPostgresStore(cfg.Graph.Postgres, logger)
	}
	return graphstore.NewSQLiteStore(cfg.Graph.SQLite, logger)
}

func newEmbedder(cfg *config.Config) (embedding.Embedder, error) {
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

// buildAuthService opens the auth store's backing connection, chosen
// up front rather than opened speculatively twice: an explicit
// Auth.AuthDB.DSN always means postgres, otherwise the auth tables
// share the sqlite file the graph store uses. It then ensures the
// schema exists and bootstraps the fixed scope roster before the API
// starts serving requests.
func buildAuthService(cfg *config.Config, logger *observability.Logger) (*auth.Service, *auth.TokenIssuer, error) {
	var (
		driver  string
		dsn     string
		dialect auth.Dialect
	)
	if cfg.Auth.AuthDB.DSN != "" {
		driver, dsn, dialect = "postgres", cfg.Auth.AuthDB.DSN, auth.DialectPostgres
	} else {
		driver, dsn, dialect = "sqlite3", cfg.Graph.SQLite.Path, auth.DialectSQLite
	}

	authDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, err
	}

	authStore := auth.NewStore(authDB, dialect)
	ctx := context.Background()
	if err := authStore.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	if err := authStore.LoadScopes(ctx); err != nil {
		return nil, nil, err
	}

	tokenIssuer := auth.NewTokenIssuer(cfg.Auth.SecretKey, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	return auth.NewService(authStore, tokenIssuer, logger), tokenIssuer, nil
}
