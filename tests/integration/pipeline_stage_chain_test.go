// Package integration also covers the resumable pipeline stage chain
// for the stages that need no LLM: add_context, recall_knowledge,
// recall_column, recall_cell, merge_col_cell, and add_kn_col. The
// LLM-calling stages (filter_knowledge, extend_column, extend_cell,
// filter_tb_col) are unit-tested at the pure-helper level instead,
// since exercising them here would require a live or stubbed chat
// endpoint.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/embedding"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/observability"
	"github.com/metaground/retrieval-engine/internal/pipeline"
	"github.com/metaground/retrieval-engine/internal/pipeline/stages"
	"github.com/metaground/retrieval-engine/internal/retrieval"
)

func newSeededGraphStore(t *testing.T) *graphstore.Store {
	t.Helper()
	ctx := context.Background()
	store, err := graphstore.NewSQLiteStore(config.SQLiteConfig{Path: ":memory:"}, observability.DefaultLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))

	require.NoError(t, store.UpsertDatabase(ctx, graphstore.Database{DBCode: "shop_db", DBName: "Shop"}))
	require.NoError(t, store.UpsertTable(ctx, graphstore.Table{TbCode: "tb_orders", DBCode: "shop_db", TbName: "orders", TbMeaning: "customer orders"}))

	col := graphstore.Column{TbCode: "tb_orders", ColName: "refund_reason", ColMeaning: "reason for a refund"}
	require.NoError(t, store.UpsertColumn(ctx, col))

	kn := graphstore.Knowledge{DBCode: "shop_db", KnCode: "kn_refund_policy", KnName: "refund policy", KnDesc: "refunds allowed within 30 days", RelCol: []string{"orders.refund_reason"}}
	require.NoError(t, store.UpsertKnowledge(ctx, kn))

	embedder := embedding.NewMockClient(64)
	vec, err := embedder.EmbedSingle(ctx, "reason for a refund")
	require.NoError(t, err)
	require.NoError(t, store.UpsertEmbedCol(ctx, graphstore.EmbedCol{Content: "reason for a refund", Embed: vec}, "shop_db", col))

	knVec, err := embedder.EmbedSingle(ctx, "refund policy")
	require.NoError(t, err)
	require.NoError(t, store.UpsertEmbedKn(ctx, graphstore.EmbedKn{Content: "refund policy", Embed: knVec}, "shop_db", kn))

	return store
}

// TestPipelineStageChain_NonLLMStages runs the non-LLM portion of the
// default stage graph against a FileStore-backed session, verifying
// that state persists and resumes correctly across independent
// RunOne invocations, and that merge_col_cell's top-K pruning
// invariant (spec scenario 3) holds.
func TestPipelineStageChain_NonLLMStages(t *testing.T) {
	ctx := context.Background()
	store := newSeededGraphStore(t)
	embedder := embedding.NewMockClient(64)
	engine := retrieval.New(store, embedder, config.DefaultConfig().Retrieval, observability.DefaultLogger())

	stateStore, err := pipeline.NewFileStore(t.TempDir())
	require.NoError(t, err)
	runtime := pipeline.NewRuntime(stateStore)

	deps := stages.Deps{
		Retrieval: engine,
		Store:     store,
		Pipeline:  config.PipelineConfig{MaxTbNum: 10, MaxColPerTb: 10},
		Logger:    observability.DefaultLogger(),
	}
	bound := deps.Bind()

	sessionID := uuid.NewString()
	initial := pipeline.State{DBCode: "shop_db", Query: "why was my order refunded?"}

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	st, err := runtime.RunOne(timeoutCtx, sessionID, "add_context", bound["add_context"])
	require.NoError(t, err)
	require.NotEmpty(t, st.Keywords, "add_context must tokenize the query into keywords")
	require.Contains(t, st.TbMap, "tb_orders")

	st, err = runtime.RunOne(timeoutCtx, sessionID, "recall_knowledge", bound["recall_knowledge"])
	require.NoError(t, err)
	require.Contains(t, st.RetrievedKnowledge, "kn_refund_policy")

	// filter_knowledge/extend_column/extend_cell are LLM stages, out
	// of scope here. Seed their outputs directly into the persisted
	// session the way the runtime itself would, so the downstream
	// non-LLM stages have something to recall against.
	st.KnMap = st.RetrievedKnowledge
	st.ExtractedColumns = []string{"reason for a refund"}
	st.ExtractedCells = []string{"item arrived damaged"}
	require.NoError(t, stateStore.Save(timeoutCtx, sessionID, st))

	st, err = runtime.RunOne(timeoutCtx, sessionID, "recall_column", bound["recall_column"])
	require.NoError(t, err)
	require.Contains(t, st.RetrievedColMap, "tb_orders")
	require.Contains(t, st.RetrievedColMap["tb_orders"], "refund_reason")

	st, err = runtime.RunOne(timeoutCtx, sessionID, "recall_cell", bound["recall_cell"])
	require.NoError(t, err)

	st, err = runtime.RunOne(timeoutCtx, sessionID, "merge_col_cell", bound["merge_col_cell"])
	require.NoError(t, err)
	require.Contains(t, st.ColMap, "tb_orders")
	require.LessOrEqual(t, len(st.ColMap), 10, "merge_col_cell must respect MaxTbNum")
	require.LessOrEqual(t, len(st.ColMap["tb_orders"]), 10, "merge_col_cell must respect MaxColPerTb")

	st, err = runtime.RunOne(timeoutCtx, sessionID, "add_kn_col", bound["add_kn_col"])
	require.NoError(t, err)
	require.Contains(t, st.ColMap["tb_orders"], "refund_reason", "add_kn_col must preserve the recalled column view")

	// Resuming the session from scratch returns the same accumulated
	// state (spec §5's resumability invariant), proving the runtime
	// never lost anything written by earlier stages.
	reloaded, err := stateStore.Load(timeoutCtx, sessionID)
	require.NoError(t, err)
	require.Equal(t, st.DBCode, reloaded.DBCode)
	require.Contains(t, reloaded.ColMap, "tb_orders")
}
