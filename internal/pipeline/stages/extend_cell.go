package stages

import (
	"context"

	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/llmclient"
	"github.com/metaground/retrieval-engine/internal/pipeline"
)

// ExtendCell applies the same LLM-suggestion pattern as ExtendColumn,
// for literal cell values instead of column-name tokens.
func ExtendCell(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error) {
	rendered, err := deps.Prompts.Render("table_rag", "extend_cell_prompt", map[string]interface{}{
		"query":         st.Query,
		"table_caption": st.TbCaption,
	})
	if err != nil {
		return pipeline.State{}, err
	}

	reply, err := deps.ExtendLLM.Complete(ctx, []llmclient.Message{
		{Role: "system", Content: rendered.System},
		{Role: "user", Content: rendered.User},
	})
	if err != nil {
		return pipeline.State{}, errs.New(errs.KindUpstreamIO, "extend_cell_llm", err)
	}

	var extra []string
	if err := llmclient.ParseJSON(reply, &extra); err != nil {
		deps.Logger.Warn().Err(err).Msg("extend_cell: malformed LLM output, using keywords only")
		extra = nil
	}

	return pipeline.State{ExtractedCells: unionDedup(st.Keywords, extra)}, nil
}
