package stages

import (
	"context"
	"strings"

	"github.com/metaground/retrieval-engine/internal/pipeline"
)

// AddKnCol handles knowledge-linked columns: for every selected knowledge's rel_col
// list ("tbl.col" hints), resolve the column by name and merge it into
// col_map even if retrieval never surfaced it — knowledge-linked
// columns are semantically required regardless of their recall score.
func AddKnCol(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error) {
	if len(st.KnMap) == 0 {
		return pipeline.State{ColMap: st.ColMap}, nil
	}

	colMap := cloneColMap(st.ColMap)
	for _, k := range st.KnMap {
		for _, relCol := range k.RelCol {
			tbName, colName, ok := splitRelCol(relCol)
			if !ok {
				continue
			}
			col, found, err := deps.Store.GetColumnByName(ctx, st.DBCode, tbName, colName)
			if err != nil || !found {
				continue
			}
			if colMap[col.TbCode] == nil {
				colMap[col.TbCode] = make(map[string]pipeline.ColumnView)
			}
			if _, already := colMap[col.TbCode][col.ColName]; !already {
				colMap[col.TbCode][col.ColName] = pipeline.ColumnView{Column: col}
			}
		}
	}
	return pipeline.State{ColMap: colMap}, nil
}

func splitRelCol(relCol string) (tbName, colName string, ok bool) {
	idx := strings.LastIndex(relCol, ".")
	if idx <= 0 || idx == len(relCol)-1 {
		return "", "", false
	}
	return relCol[:idx], relCol[idx+1:], true
}

func cloneColMap(src map[string]map[string]pipeline.ColumnView) map[string]map[string]pipeline.ColumnView {
	out := make(map[string]map[string]pipeline.ColumnView, len(src))
	for tb, cols := range src {
		inner := make(map[string]pipeline.ColumnView, len(cols))
		for name, cv := range cols {
			inner[name] = cv
		}
		out[tb] = inner
	}
	return out
}
