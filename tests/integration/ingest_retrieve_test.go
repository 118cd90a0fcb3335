// Package integration provides integration tests that exercise the
// ingestion pipeline against a real source database, followed by
// retrieval against the resulting graph store.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/embedding"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/ingest"
	"github.com/metaground/retrieval-engine/internal/observability"
	"github.com/metaground/retrieval-engine/internal/retrieval"
)

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("docker not available")
	}
}

// startPostgresSource brings up a disposable Postgres container, seeds
// it with a tiny orders/customers schema, and returns a DSN for it.
func startPostgresSource(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shop"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/shop?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.PingContext(ctx))

	_, err = db.ExecContext(ctx, `
		CREATE TABLE customers (
			id   SERIAL PRIMARY KEY,
			name VARCHAR(100)
		);
		CREATE TABLE orders (
			id             SERIAL PRIMARY KEY,
			customer_id    INTEGER REFERENCES customers(id),
			status         VARCHAR(50),
			refund_reason  VARCHAR(200)
		);
		INSERT INTO customers (name) VALUES ('Alice'), ('Bob');
		INSERT INTO orders (customer_id, status, refund_reason) VALUES
			(1, 'refunded', 'item arrived damaged'),
			(2, 'shipped', NULL),
			(1, 'refunded', '123');
	`)
	require.NoError(t, err)

	return dsn
}

// TestIngestThenRetrieve exercises the ingest -> retrieve round trip
// end to end: a live Postgres source database is introspected and
// ingested into an in-memory graph store, then retrieve_knowledge,
// retrieve_column, and retrieve_cell are run against it.
func TestIngestThenRetrieve(t *testing.T) {
	requireDocker(t)

	dsn := startPostgresSource(t)

	store, err := graphstore.NewSQLiteStore(config.SQLiteConfig{Path: ":memory:"}, observability.DefaultLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureSchema(context.Background()))

	embedder := embedding.NewMockClient(64)
	ingestCfg := config.IngestionConfig{
		FewshotSampleLimit: 100,
		FewshotQuota:       5,
		FewshotMaxLen:      200,
		CellPartitionSize:  50,
		CellMaxConcurrent:  4,
		EmbedMaxAttempts:   2,
	}
	pipeline := ingest.New(store, embedder, ingestCfg, observability.DefaultLogger())

	dbCfg := config.SourceDBConfig{
		DBCode:   "shop_db",
		DBName:   "Shop",
		DBType:   "postgresql",
		DSN:      dsn,
		Database: "public",
		Tables: []config.TableDecl{
			{TbCode: "tb_customers", TbName: "customers", TbMeaning: "customer accounts"},
			{
				TbCode:    "tb_orders",
				TbName:    "orders",
				TbMeaning: "customer orders",
				SyncCol:   []string{"status", "refund_reason"},
				Column: map[string]config.ColumnOverride{
					"refund_reason": {ColMeaning: "reason the customer gave for requesting a refund"},
				},
			},
		},
		Knowledge: []config.KnowledgeDecl{
			{
				KnCode: "kn_refund_policy",
				KnName: "refund policy",
				KnDesc: "orders may be refunded within 30 days if the item arrived damaged",
				RelCol: []string{"orders.refund_reason"},
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	require.NoError(t, pipeline.IngestDatabase(ctx, dbCfg))

	// Table/column metadata landed in the graph store.
	tables, err := store.ListTables(ctx, "shop_db")
	require.NoError(t, err)
	require.Contains(t, tables, "tb_orders")

	col, found, err := store.GetColumnByName(ctx, "shop_db", "orders", "refund_reason")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "reason the customer gave for requesting a refund", col.ColMeaning)

	// Numeric-string fewshot values are rejected (spec scenario 2):
	// "123" must never appear among the sampled fewshot exemplars.
	for _, v := range col.Fewshot {
		require.NotEqual(t, "123", v)
	}

	engine := retrieval.New(store, embedder, config.DefaultConfig().Retrieval, observability.DefaultLogger())

	knResult, err := engine.RetrieveKnowledge(ctx, "shop_db", "refund policy", []string{"refund policy"})
	require.NoError(t, err)
	require.Contains(t, knResult, "kn_refund_policy")

	colResult, err := engine.RetrieveColumn(ctx, "shop_db", []string{"reason the customer gave for requesting a refund"})
	require.NoError(t, err)
	require.Contains(t, colResult, "tb_orders")
	require.Contains(t, colResult["tb_orders"], "refund_reason")

	cellResult, err := engine.RetrieveCell(ctx, "shop_db", []string{"item arrived damaged"})
	require.NoError(t, err)
	require.Contains(t, cellResult, "tb_orders")
}
