package stages

import (
	"context"
	"sort"

	"github.com/metaground/retrieval-engine/internal/pipeline"
)

// MergeColCell merges retrieved_cell_map into retrieved_col_map (union
// cells[], keep max score for columns present in both), then prunes:
// per table, keep at most MaxColPerTb columns by score; then keep at
// most MaxTbNum tables by summed column score. The post-conditions
// hold for every call: |tables| <= max_tb_num and every surviving
// table has |columns| <= max_col_per_tb.
func MergeColCell(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error) {
	merged := mergeColumnViews(st.RetrievedColMap, st.RetrievedCellMap)
	pruned := pruneColMap(merged, deps.Pipeline.MaxTbNum, deps.Pipeline.MaxColPerTb)
	return pipeline.State{ColMap: pruned}, nil
}

func mergeColumnViews(colMap, cellMap map[string]map[string]pipeline.ColumnView) map[string]map[string]pipeline.ColumnView {
	out := make(map[string]map[string]pipeline.ColumnView)
	for tb, cols := range colMap {
		out[tb] = make(map[string]pipeline.ColumnView, len(cols))
		for name, cv := range cols {
			out[tb][name] = cv
		}
	}
	for tb, cols := range cellMap {
		if out[tb] == nil {
			out[tb] = make(map[string]pipeline.ColumnView, len(cols))
		}
		for name, cellView := range cols {
			existing, ok := out[tb][name]
			if !ok {
				out[tb][name] = cellView
				continue
			}
			merged := existing
			merged.Cells = unionStrings(existing.Cells, cellView.Cells)
			if cellView.Score > merged.Score {
				merged.Score = cellView.Score
			}
			out[tb][name] = merged
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range append(append([]string{}, a...), b...) {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// pruneColMap caps columns-per-table by score, then caps the number of
// tables by summed column score, in that order: column pruning happens
// before the table-score sum is computed.
func pruneColMap(colMap map[string]map[string]pipeline.ColumnView, maxTbNum, maxColPerTb int) map[string]map[string]pipeline.ColumnView {
	type scoredCol struct {
		name string
		cv   pipeline.ColumnView
	}

	capped := make(map[string]map[string]pipeline.ColumnView, len(colMap))
	tableSum := make(map[string]float64, len(colMap))
	for tb, cols := range colMap {
		scored := make([]scoredCol, 0, len(cols))
		for name, cv := range cols {
			scored = append(scored, scoredCol{name, cv})
		}
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].cv.Score != scored[j].cv.Score {
				return scored[i].cv.Score > scored[j].cv.Score
			}
			return scored[i].name < scored[j].name
		})
		if maxColPerTb > 0 && len(scored) > maxColPerTb {
			scored = scored[:maxColPerTb]
		}

		kept := make(map[string]pipeline.ColumnView, len(scored))
		var sum float64
		for _, sc := range scored {
			kept[sc.name] = sc.cv
			sum += sc.cv.Score
		}
		capped[tb] = kept
		tableSum[tb] = sum
	}

	if maxTbNum <= 0 || len(capped) <= maxTbNum {
		return capped
	}

	tables := make([]string, 0, len(capped))
	for tb := range capped {
		tables = append(tables, tb)
	}
	sort.Slice(tables, func(i, j int) bool {
		if tableSum[tables[i]] != tableSum[tables[j]] {
			return tableSum[tables[i]] > tableSum[tables[j]]
		}
		return tables[i] < tables[j]
	})
	tables = tables[:maxTbNum]

	out := make(map[string]map[string]pipeline.ColumnView, maxTbNum)
	for _, tb := range tables {
		out[tb] = capped[tb]
	}
	return out
}
