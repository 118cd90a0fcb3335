// Package stages implements the ten pure, resumable pipeline stages:
// add_context, recall_knowledge, filter_knowledge, extend_column,
// extend_cell, recall_column, recall_cell, merge_col_cell, add_kn_col,
// and filter_tb_col. Each stage is a Func: it reads the full State,
// computes a delta, and returns the delta for Runtime to merge and
// persist.
package stages

import (
	"context"
	"time"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/llmclient"
	"github.com/metaground/retrieval-engine/internal/observability"
	"github.com/metaground/retrieval-engine/internal/pipeline"
	"github.com/metaground/retrieval-engine/internal/pipeline/prompt"
	"github.com/metaground/retrieval-engine/internal/retrieval"
)

// Retriever is the subset of retrieval.Engine the stages depend on.
type Retriever interface {
	RetrieveKnowledge(ctx context.Context, dbCode, query string, keywords []string) (map[string]graphstore.Knowledge, error)
	RetrieveColumn(ctx context.Context, dbCode string, keywords []string) (map[string]map[string]retrieval.ColumnResult, error)
	RetrieveCell(ctx context.Context, dbCode string, keywords []string) (map[string]map[string]retrieval.CellColumnResult, error)
}

// ColumnLookup is the subset of graphstore.Store the stages depend on
// for table listing and name-based column resolution.
type ColumnLookup interface {
	ListTables(ctx context.Context, dbCode string) (map[string]graphstore.Table, error)
	GetColumnByName(ctx context.Context, dbCode, tbName, colName string) (graphstore.Column, bool, error)
}

// Deps bundles everything a stage needs beyond the State itself: the
// retrieval engine, the two named LLM clients the stage graph uses
// (filter_knowledge/extend_column etc each call an LLM), the graph
// store's read side, the prompt loader, and the pipeline tuning knobs.
type Deps struct {
	Retrieval  Retriever
	FilterLLM  *llmclient.Client
	ExtendLLM  *llmclient.Client
	Store      ColumnLookup
	Prompts    *prompt.Loader
	Pipeline   config.PipelineConfig
	Logger     *observability.Logger
}

// Func is one pipeline stage: given the accumulated State, it returns
// a patch to merge into it, reading the full state but writing only
// its own deltas.
type Func func(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error)

// Registry names every stage the default stage graph runs, in order.
var Registry = map[string]Func{
	"add_context":       AddContext,
	"recall_knowledge":  RecallKnowledge,
	"filter_knowledge":  FilterKnowledge,
	"extend_column":     ExtendColumn,
	"extend_cell":       ExtendCell,
	"recall_column":     RecallColumn,
	"recall_cell":       RecallCell,
	"merge_col_cell":    MergeColCell,
	"add_kn_col":        AddKnCol,
	"filter_tb_col":     FilterTbCol,
}

// DefaultStageOrder is the full stage graph, in the order a fresh
// session runs them end-to-end.
var DefaultStageOrder = []string{
	"add_context",
	"recall_knowledge",
	"filter_knowledge",
	"extend_column",
	"extend_cell",
	"recall_column",
	"recall_cell",
	"merge_col_cell",
	"add_kn_col",
	"filter_tb_col",
}

// nowFunc is overridable in tests so cur_date_info is deterministic.
var nowFunc = time.Now

// Bind closes every Registry stage over deps, producing the
// pipeline.StageFunc map Runtime.Run expects.
func (deps Deps) Bind() map[string]pipeline.StageFunc {
	out := make(map[string]pipeline.StageFunc, len(Registry))
	for name, fn := range Registry {
		fn := fn
		out[name] = func(ctx context.Context, st pipeline.State) (pipeline.State, error) {
			return fn(ctx, deps, st)
		}
	}
	return out
}
