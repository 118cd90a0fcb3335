package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/embedding"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/keyword"
	"github.com/metaground/retrieval-engine/internal/observability"
)

func newTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	store, err := graphstore.NewSQLiteStore(config.SQLiteConfig{Path: ":memory:"}, observability.DefaultLogger())
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRetrieveColumn_FindsMatchingColumnByContent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	embedder := embedding.NewMockClient(64)

	const dbCode = "db1"
	require.NoError(t, store.UpsertDatabase(ctx, graphstore.Database{DBCode: dbCode, DBName: "shop"}))
	require.NoError(t, store.UpsertTable(ctx, graphstore.Table{TbCode: "tb_orders", DBCode: dbCode, TbName: "orders"}))
	col := graphstore.Column{TbCode: "tb_orders", ColName: "refund_reason", ColMeaning: "refund policy reason"}
	require.NoError(t, store.UpsertColumn(ctx, col))

	vec, err := embedder.EmbedSingle(ctx, "refund policy reason")
	require.NoError(t, err)
	require.NoError(t, store.UpsertEmbedCol(ctx, graphstore.EmbedCol{Content: "refund policy reason", Embed: vec}, dbCode, col))

	engine := New(store, embedder, config.DefaultConfig().Retrieval, observability.DefaultLogger())
	result, err := engine.RetrieveColumn(ctx, dbCode, []string{"refund policy reason"})
	require.NoError(t, err)

	require.Contains(t, result, "tb_orders")
	require.Contains(t, result["tb_orders"], "refund_reason")
	assert.InDelta(t, 1.0, result["tb_orders"]["refund_reason"].Score, 1e-4)
}

func TestRetrieveColumn_EmptyKeywordsReturnsEmptyMap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	embedder := embedding.NewMockClient(64)
	engine := New(store, embedder, config.DefaultConfig().Retrieval, observability.DefaultLogger())

	result, err := engine.RetrieveColumn(ctx, "db1", nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestRetrieveKnowledge_ExpandsContainChildren(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	embedder := embedding.NewMockClient(64)

	const dbCode = "db1"
	require.NoError(t, store.UpsertDatabase(ctx, graphstore.Database{DBCode: dbCode, DBName: "shop"}))

	parent := graphstore.Knowledge{DBCode: dbCode, KnCode: "kn_revenue", KnName: "revenue growth is strong this quarter"}
	child := graphstore.Knowledge{DBCode: dbCode, KnCode: "kn_revenue_detail", KnName: "quarterly revenue breakdown by region"}
	require.NoError(t, store.UpsertKnowledge(ctx, parent))
	require.NoError(t, store.UpsertKnowledge(ctx, child))
	require.NoError(t, store.UpsertKnowledgeContain(ctx, parent.Key(), child.Key()))

	atom := "revenue growth is strong this quarter"
	vec, err := embedder.EmbedSingle(ctx, atom)
	require.NoError(t, err)
	ts, err := keyword.Extract(ctx, atom)
	require.NoError(t, err)
	require.NoError(t, store.UpsertEmbedKn(ctx, graphstore.EmbedKn{Content: atom, Embed: vec, TSContent: ts}, dbCode, parent))

	engine := New(store, embedder, config.DefaultConfig().Retrieval, observability.DefaultLogger())
	result, err := engine.RetrieveKnowledge(ctx, dbCode, atom, nil)
	require.NoError(t, err)

	assert.Contains(t, result, "kn_revenue")
	assert.Contains(t, result, "kn_revenue_detail", "CONTAIN child must be expanded in even without its own match")
}

func TestRetrieveKnowledge_NoMatchReturnsEmptyMap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	embedder := embedding.NewMockClient(64)
	engine := New(store, embedder, config.DefaultConfig().Retrieval, observability.DefaultLogger())

	result, err := engine.RetrieveKnowledge(ctx, "db1", "ab", nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestRetrieveCell_GroupsByOwningColumnWithScaledScore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	embedder := embedding.NewMockClient(64)

	const dbCode = "db1"
	require.NoError(t, store.UpsertDatabase(ctx, graphstore.Database{DBCode: dbCode, DBName: "shop"}))
	require.NoError(t, store.UpsertTable(ctx, graphstore.Table{TbCode: "tb_orders", DBCode: dbCode, TbName: "orders"}))
	col := graphstore.Column{TbCode: "tb_orders", ColName: "status"}
	require.NoError(t, store.UpsertColumn(ctx, col))

	content := "cancelled"
	vec, err := embedder.EmbedSingle(ctx, content)
	require.NoError(t, err)
	ts, err := keyword.Extract(ctx, content)
	require.NoError(t, err)
	require.NoError(t, store.UpsertCell(ctx, graphstore.Cell{Content: content, Embed: vec, TSContent: ts}, dbCode, col))

	cfg := config.DefaultConfig().Retrieval
	engine := New(store, embedder, cfg, observability.DefaultLogger())
	result, err := engine.RetrieveCell(ctx, dbCode, []string{content})
	require.NoError(t, err)

	require.Contains(t, result, "tb_orders")
	require.Contains(t, result["tb_orders"], "status")
	got := result["tb_orders"]["status"]
	assert.Equal(t, []string{"cancelled"}, got.Cells)
	assert.InDelta(t, 2.0/float64(cfg.RRFk)*cfg.CellScoreScale, got.Score, 0.5)
}
