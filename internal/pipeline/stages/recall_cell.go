package stages

import (
	"context"

	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/pipeline"
)

// RecallCell calls retrieve_cell over extracted_cells and writes
// retrieved_cell_map.
func RecallCell(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error) {
	cells, err := deps.Retrieval.RetrieveCell(ctx, st.DBCode, st.ExtractedCells)
	if err != nil {
		return pipeline.State{}, errs.New(errs.KindUpstreamIO, "recall_cell", err)
	}

	out := make(map[string]map[string]pipeline.ColumnView, len(cells))
	for tb, byName := range cells {
		out[tb] = make(map[string]pipeline.ColumnView, len(byName))
		for name, c := range byName {
			out[tb][name] = pipeline.ColumnView{Column: c.Column, Cells: c.Cells, Score: c.Score}
		}
	}
	return pipeline.State{RetrievedCellMap: out}, nil
}
