package stages

import (
	"context"

	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/llmclient"
	"github.com/metaground/retrieval-engine/internal/pipeline"
	"github.com/metaground/retrieval-engine/internal/pipeline/xmlctx"
)

// filterKnowledgeResponse accepts either {"kn_codes":[...]} or a bare
// JSON array, since the prompt asks for "a JSON array only" but
// models often wrap it in an object anyway.
type filterKnowledgeResponse struct {
	KnCodes []string `json:"kn_codes"`
}

func parseKnCodes(raw string) ([]string, error) {
	var arr []string
	if err := llmclient.ParseJSON(raw, &arr); err == nil {
		return arr, nil
	}
	var obj filterKnowledgeResponse
	if err := llmclient.ParseJSON(raw, &obj); err != nil {
		return nil, err
	}
	return obj.KnCodes, nil
}

// FilterKnowledge lets an LLM pick the relevant kn_codes from
// retrieved_knowledge, then transitively closes the result under
// rel_kn to fixpoint rather than a single pass, since one pass alone
// could miss multi-hop dependencies: knowledge the LLM omitted but
// that a selected knowledge's rel_kn names is still included,
// recovered from the pre-filter retrieved_knowledge candidate set.
func FilterKnowledge(ctx context.Context, deps Deps, st pipeline.State) (pipeline.State, error) {
	if len(st.RetrievedKnowledge) == 0 {
		return pipeline.State{KnMap: map[string]graphstore.Knowledge{}}, nil
	}

	rendered, err := deps.Prompts.Render("table_rag", "knowledge_filter_prompt", map[string]interface{}{
		"knowledge_info": xmlctx.RenderKnowledges(st.RetrievedKnowledge),
		"query":          st.Query,
	})
	if err != nil {
		return pipeline.State{}, err
	}

	reply, err := deps.FilterLLM.Complete(ctx, []llmclient.Message{
		{Role: "system", Content: rendered.System},
		{Role: "user", Content: rendered.User},
	})
	if err != nil {
		return pipeline.State{}, errs.New(errs.KindUpstreamIO, "filter_knowledge_llm", err)
	}

	picked, err := parseKnCodes(reply)
	if err != nil {
		// Data error: malformed LLM JSON falls back to the conservative
		// choice for filter stages — keep every retrieved candidate
		// rather than drop the set.
		deps.Logger.Warn().Err(err).Msg("filter_knowledge: malformed LLM output, keeping all candidates")
		picked = allKnCodes(st.RetrievedKnowledge)
	}

	knMap := make(map[string]graphstore.Knowledge, len(picked))
	for _, code := range picked {
		if k, ok := st.RetrievedKnowledge[code]; ok {
			knMap[code] = k
		}
	}

	closeRelKnFixpoint(knMap, st.RetrievedKnowledge)

	return pipeline.State{KnMap: knMap}, nil
}

func allKnCodes(m map[string]graphstore.Knowledge) []string {
	out := make([]string, 0, len(m))
	for code := range m {
		out = append(out, code)
	}
	return out
}

// closeRelKnFixpoint repeatedly adds any rel_kn target present in the
// candidate set until no new knowledge is added, mutating knMap in place.
func closeRelKnFixpoint(knMap map[string]graphstore.Knowledge, candidates map[string]graphstore.Knowledge) {
	for {
		added := false
		for _, k := range knMap {
			for _, rel := range k.RelKn {
				if _, already := knMap[rel]; already {
					continue
				}
				if cand, ok := candidates[rel]; ok {
					knMap[rel] = cand
					added = true
				}
			}
		}
		if !added {
			return
		}
	}
}
