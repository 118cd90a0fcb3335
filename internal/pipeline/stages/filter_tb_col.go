package stages

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/metaground/retrieval-engine/internal/llmclient"
	"github.com/metaground/retrieval-engine/internal/pipeline"
	"github.com/metaground/retrieval-engine/internal/pipeline/xmlctx"
)

// FilterTbCol's tableSem and columnSem are two independent
// bounded-concurrency pools: table-batch fan-out and per-table column
// fan-out never share a semaphore, so a slow column-filter call never
// starves new table-batch dispatch.
const (
	defaultTableFilterBatch = 5
	defaultMaxConcurrent    = 20
)

type tableFilterResult struct {
	tbCode string
	keep   bool
	cols   map[string]pipeline.ColumnView // nil means "keep all original columns"
}

// FilterTbCol runs two pipelined stages: stage A batches candidate
// tables (batches of TableFilterBatchSize) and asks the LLM which are
// relevant, fanned out under a semaphore of MaxConcurrent; stage B
// pipelines off each completed batch immediately (no barrier between
// stage A and stage B) to ask, per surviving table and under its own
// semaphore, which columns are relevant. A malformed stage-B response
// (missing related_flag or column_names) conservatively keeps every
// column of that table rather than dropping it.
func FilterTbCol(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error) {
	tables := sortedTableCodes(st.ColMap)
	if len(tables) == 0 {
		return pipeline.State{ColMap: map[string]map[string]pipeline.ColumnView{}}, nil
	}

	batchSize := deps.Pipeline.TableFilterBatchSize
	if batchSize <= 0 {
		batchSize = defaultTableFilterBatch
	}
	maxConcurrent := deps.Pipeline.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	tableSem := semaphore.NewWeighted(int64(maxConcurrent))
	columnSem := semaphore.NewWeighted(int64(maxConcurrent))

	var mu sync.Mutex
	results := make([]tableFilterResult, 0, len(tables))
	rejected := make(map[string]bool)

	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range chunkStrings(tables, batchSize) {
		batch := batch
		g.Go(func() error {
			if err := tableSem.Acquire(gctx, 1); err != nil {
				return err
			}
			relevant, err := runTableFilterBatch(gctx, deps, st, batch)
			tableSem.Release(1)
			if err != nil {
				deps.Logger.Warn().Err(err).Msg("filter_tb_col: table-filter batch failed, keeping batch")
				relevant = batch
			}
			mu.Lock()
			for _, tb := range batch {
				rejected[tb] = true
			}
			for _, tb := range relevant {
				delete(rejected, tb)
			}
			mu.Unlock()

			// Pipelined handoff: dispatch column-filter tasks for this
			// batch's survivors immediately, without waiting on other
			// batches to finish stage A.
			inner, innerCtx := errgroup.WithContext(gctx)
			for _, tbCode := range relevant {
				tbCode := tbCode
				inner.Go(func() error {
					if err := columnSem.Acquire(innerCtx, 1); err != nil {
						return err
					}
					defer columnSem.Release(1)

					res := runColumnFilter(innerCtx, deps, st, tbCode)
					mu.Lock()
					results = append(results, res)
					mu.Unlock()
					return nil
				})
			}
			return inner.Wait()
		})
	}
	if err := g.Wait(); err != nil {
		return pipeline.State{}, err
	}

	dropped := make(map[string]bool, len(tables))
	for _, tb := range tables {
		dropped[tb] = true
	}
	colMap := make(map[string]map[string]pipeline.ColumnView, len(results))
	for _, res := range results {
		delete(dropped, res.tbCode)
		if !res.keep {
			continue
		}
		if res.cols != nil {
			colMap[res.tbCode] = res.cols
		} else {
			colMap[res.tbCode] = st.ColMap[res.tbCode]
		}
	}
	// Any table stage A did not reject but stage B never reported is
	// kept whole, matching the same conservative fallback stage B uses;
	// tables stage A rejected stay dropped.
	for tb := range dropped {
		if rejected[tb] {
			continue
		}
		colMap[tb] = st.ColMap[tb]
	}

	return pipeline.State{ColMap: colMap}, nil
}

func runTableFilterBatch(ctx context.Context, deps Deps, st pipeline.State, batch []string) ([]string, error) {
	tbMap := make(map[string]pipeline.TableInfo, len(batch))
	colMap := make(map[string]map[string]pipeline.ColumnView, len(batch))
	for _, tb := range batch {
		tbMap[tb] = st.TbMap[tb]
		colMap[tb] = st.ColMap[tb]
	}

	rendered, err := deps.Prompts.Render("table_rag", "table_filter_prompt", map[string]interface{}{
		"time_info":  st.CurDateInfo,
		"table_info": xmlctx.RenderTables(tbMap, colMap),
		"query":      st.Query,
	})
	if err != nil {
		return nil, err
	}

	reply, err := deps.FilterLLM.Complete(ctx, []llmclient.Message{
		{Role: "system", Content: rendered.System},
		{Role: "user", Content: rendered.User},
	})
	if err != nil {
		return nil, err
	}

	var relevant []string
	if err := llmclient.ParseJSON(reply, &relevant); err != nil {
		return nil, err
	}

	inBatch := make(map[string]bool, len(batch))
	for _, tb := range batch {
		inBatch[tb] = true
	}
	out := relevant[:0:0]
	for _, tb := range relevant {
		if inBatch[tb] {
			out = append(out, tb)
		}
	}
	return out, nil
}

type columnFilterResponse struct {
	RelatedFlag *bool    `json:"related_flag"`
	ColumnNames []string `json:"column_names"`
}

func runColumnFilter(ctx context.Context, deps Deps, st pipeline.State, tbCode string) tableFilterResult {
	tbMap := map[string]pipeline.TableInfo{tbCode: st.TbMap[tbCode]}
	colMap := map[string]map[string]pipeline.ColumnView{tbCode: st.ColMap[tbCode]}

	rendered, err := deps.Prompts.Render("table_rag", "column_filter_prompt", map[string]interface{}{
		"time_info":  st.CurDateInfo,
		"table_info": xmlctx.RenderTables(tbMap, colMap),
		"query":      st.Query,
	})
	if err != nil {
		deps.Logger.Warn().Err(err).Str("table", tbCode).Msg("filter_tb_col: column-filter render failed, keeping table")
		return tableFilterResult{tbCode: tbCode, keep: true, cols: nil}
	}

	reply, err := deps.FilterLLM.Complete(ctx, []llmclient.Message{
		{Role: "system", Content: rendered.System},
		{Role: "user", Content: rendered.User},
	})
	if err != nil {
		deps.Logger.Warn().Err(err).Str("table", tbCode).Msg("filter_tb_col: column-filter LLM call failed, keeping table")
		return tableFilterResult{tbCode: tbCode, keep: true, cols: nil}
	}

	var resp columnFilterResponse
	if err := llmclient.ParseJSON(reply, &resp); err != nil || resp.RelatedFlag == nil {
		// Missing related_flag (or unparseable JSON) takes the
		// conservative fallback: keep the table whole.
		deps.Logger.Warn().Str("table", tbCode).Msg("filter_tb_col: malformed column-filter response, keeping table whole")
		return tableFilterResult{tbCode: tbCode, keep: true, cols: nil}
	}
	if !*resp.RelatedFlag {
		return tableFilterResult{tbCode: tbCode, keep: false}
	}
	if resp.ColumnNames == nil {
		// related_flag true but column_names missing: same conservative
		// fallback, keep all columns for this table.
		return tableFilterResult{tbCode: tbCode, keep: true, cols: nil}
	}

	original := st.ColMap[tbCode]
	kept := make(map[string]pipeline.ColumnView, len(resp.ColumnNames))
	for _, name := range resp.ColumnNames {
		if cv, ok := original[name]; ok {
			kept[name] = cv
		}
	}
	return tableFilterResult{tbCode: tbCode, keep: true, cols: kept}
}

func sortedTableCodes(colMap map[string]map[string]pipeline.ColumnView) []string {
	out := make([]string, 0, len(colMap))
	for tb := range colMap {
		out = append(out, tb)
	}
	sort.Strings(out)
	return out
}

func chunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var out [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
