package stages

import (
	"context"

	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/pipeline"
)

// RecallColumn calls retrieve_column over extracted_columns and
// writes retrieved_col_map.
func RecallColumn(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error) {
	cols, err := deps.Retrieval.RetrieveColumn(ctx, st.DBCode, st.ExtractedColumns)
	if err != nil {
		return pipeline.State{}, errs.New(errs.KindUpstreamIO, "recall_column", err)
	}

	out := make(map[string]map[string]pipeline.ColumnView, len(cols))
	for tb, byName := range cols {
		out[tb] = make(map[string]pipeline.ColumnView, len(byName))
		for name, c := range byName {
			out[tb][name] = pipeline.ColumnView{Column: c.Column, Score: c.Score}
		}
	}
	return pipeline.State{RetrievedColMap: out}, nil
}
