package stages

import (
	"context"

	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/pipeline"
)

// RecallKnowledge calls retrieve_knowledge and writes the candidate
// set as retrieved_knowledge. Retrieval failures
// are non-fatal at the engine boundary (it returns an empty map), so
// this stage only fails on a genuine configuration problem.
func RecallKnowledge(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error) {
	kn, err := deps.Retrieval.RetrieveKnowledge(ctx, st.DBCode, st.Query, st.Keywords)
	if err != nil {
		return pipeline.State{}, errs.New(errs.KindUpstreamIO, "recall_knowledge", err)
	}
	return pipeline.State{RetrievedKnowledge: kn}, nil
}
