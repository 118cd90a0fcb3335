package stages

import (
	"context"
	"strings"

	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/llmclient"
	"github.com/metaground/retrieval-engine/internal/pipeline"
)

// ExtendColumn lets an LLM suggest additional candidate column-name
// tokens the extracted keywords alone might miss; the result is
// unioned with keywords into extracted_columns. Malformed LLM output
// is a data error that degrades to keywords alone rather than failing
// the stage.
func ExtendColumn(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error) {
	rendered, err := deps.Prompts.Render("table_rag", "extend_column_prompt", map[string]interface{}{
		"query":         st.Query,
		"keywords":      strings.Join(st.Keywords, ", "),
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
		return pipeline.State{}, errs.New(errs.KindUpstreamIO, "extend_column_llm", err)
	}

	var extra []string
	if err := llmclient.ParseJSON(reply, &extra); err != nil {
		deps.Logger.Warn().Err(err).Msg("extend_column: malformed LLM output, using keywords only")
		extra = nil
	}

	return pipeline.State{ExtractedColumns: unionDedup(st.Keywords, extra)}, nil
}

func unionDedup(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, v := range base {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	for _, v := range extra {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
