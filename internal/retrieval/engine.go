package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/embedding"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/observability"
	"github.com/metaground/retrieval-engine/internal/retry"
)

// Engine answers retrieve_knowledge/retrieve_column/retrieve_cell
// queries against a graph store, fusing dense and sparse branches with
// RRF. All three operations degrade to an empty result on
// retry-exhausted graph-store failure rather than propagating an
// error, so callers (in particular the pipeline runtime) can proceed
// with whatever partial context they have.
type Engine struct {
	store    *graphstore.Store
	embedder embedding.Embedder
	cfg      config.RetrievalConfig
	retry    retry.Policy
	logger   *observability.Logger
}

// New builds a retrieval Engine over a graph store and embedding client.
func New(store *graphstore.Store, embedder embedding.Embedder, cfg config.RetrievalConfig, logger *observability.Logger) *Engine {
	return &Engine{store: store, embedder: embedder, cfg: cfg, retry: retry.DefaultPolicy(), logger: logger}
}

// ColumnResult is a Column annotated with its retrieval score, the
// shape the /metadata/retrieve_column response projects per column.
type ColumnResult struct {
	graphstore.Column
	Score float64 `json:"score"`
}

// CellColumnResult is a Column annotated with its matched distinct
// cell contents and aggregate score, the shape the
// /metadata/retrieve_cell response projects per column.
type CellColumnResult struct {
	graphstore.Column
	Cells []string `json:"cells"`
	Score float64  `json:"score"`
}

// alwaysRetryable treats any vector/full-text index error as eligible
// for the engine's own retry loop: pgvector-backed indexes surface raw
// driver errors (not wrapped in errs.Error), and the in-process
// mem/bleve indexes essentially never fail, so there is no useful
// signal to discriminate on here.
func alwaysRetryable(error) bool { return true }

func (e *Engine) denseSearch(ctx context.Context, label graphstore.Label, dbCode string, vector []float32, topK int, minScore float64) []graphstore.VectorHit {
	var hits []graphstore.VectorHit
	err := retry.Do(ctx, e.retry, alwaysRetryable, func(ctx context.Context) error {
		h, err := e.store.Vector().Search(ctx, label, dbCode, vector, topK, float32(minScore))
		hits = h
		return err
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("label", string(label)).Msg("dense search failed after retries")
		return nil
	}
	return hits
}

func (e *Engine) sparseSearch(ctx context.Context, label graphstore.Label, dbCode string, keywords []string, topK int) []graphstore.FulltextHit {
	var hits []graphstore.FulltextHit
	err := retry.Do(ctx, e.retry, alwaysRetryable, func(ctx context.Context) error {
		h, err := e.store.Fulltext().Search(ctx, label, dbCode, keywords, topK)
		hits = h
		return err
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("label", string(label)).Msg("sparse search failed after retries")
		return nil
	}
	return hits
}

// RetrieveKnowledge implements retrieve_knowledge: dense search per
// query sub-statement plus a sparse OR-query over keywords,
// fused with RRF, top-5 expanded transitively along CONTAIN. The
// returned map is keyed by kn_code; encoding/json marshals string-keyed
// maps in sorted key order, which satisfies the "sorted by kn_code
// ascending" requirement at the wire boundary without an explicit sort
// step here.
func (e *Engine) RetrieveKnowledge(ctx context.Context, dbCode, query string, keywords []string) (map[string]graphstore.Knowledge, error) {
	knowledgeByKey := make(map[string]graphstore.Knowledge)
	denseScore := make(map[string]float64)

	sentences := splitSentences(query)
	if len(sentences) > 0 {
		vectors, err := e.embedder.EmbedBatch(ctx, sentences)
		if err != nil {
			e.logger.Warn().Err(err).Msg("retrieve_knowledge embedding failed")
		}
		for _, vec := range vectors {
			if len(vec) == 0 {
				continue
			}
			for _, h := range e.denseSearch(ctx, graphstore.LabelEmbedKn, dbCode, vec, e.cfg.KnowledgeTopDense, e.cfg.DenseScoreThreshold) {
				kns, err := e.store.OwningKnowledge(ctx, h.Key, dbCode)
				if err != nil {
					continue
				}
				for _, k := range kns {
					if s := float64(h.Score); s > denseScore[k.Key()] {
						denseScore[k.Key()] = s
					}
					knowledgeByKey[k.Key()] = k
				}
			}
		}
	}

	sparseScore := make(map[string]float64)
	if len(keywords) > 0 {
		for _, h := range e.sparseSearch(ctx, graphstore.LabelEmbedKn, dbCode, keywords, e.cfg.KnowledgeTopSparse) {
			kns, err := e.store.OwningKnowledge(ctx, h.Key, dbCode)
			if err != nil {
				continue
			}
			for _, k := range kns {
				if s := float64(h.Score); s > sparseScore[k.Key()] {
					sparseScore[k.Key()] = s
				}
				knowledgeByKey[k.Key()] = k
			}
		}
	}

	fused := Fuse(e.cfg.RRFk, RankFrom(denseScore), RankFrom(sparseScore))
	winners := TopN(RankFrom(fused), e.cfg.KnowledgeTopFused)

	result := make(map[string]graphstore.Knowledge)
	visited := make(map[string]bool)
	var expand func(key string)
	expand = func(key string) {
		if visited[key] {
			return
		}
		visited[key] = true

		k, ok := knowledgeByKey[key]
		if !ok {
			knCode := strings.TrimPrefix(key, dbCode+".")
			fetched, found, err := e.store.GetKnowledge(ctx, dbCode, knCode)
			if err != nil || !found {
				return
			}
			k = fetched
		}
		result[k.KnCode] = k

		children, err := e.store.KnowledgeContainChildren(ctx, dbCode, key)
		if err != nil {
			return
		}
		for _, child := range children {
			expand(child)
		}
	}
	for _, key := range winners {
		expand(key)
	}

	return result, nil
}

// RetrieveColumn implements retrieve_column: dense-only search over
// EmbedCol per keyword, climbed to owning Column, scored by
// the maximum match score across its atoms.
func (e *Engine) RetrieveColumn(ctx context.Context, dbCode string, keywords []string) (map[string]map[string]ColumnResult, error) {
	out := make(map[string]map[string]ColumnResult)
	if len(keywords) == 0 {
		return out, nil
	}

	vectors, err := e.embedder.EmbedBatch(ctx, keywords)
	if err != nil {
		e.logger.Warn().Err(err).Msg("retrieve_column embedding failed")
		return out, nil
	}

	score := make(map[string]float64)
	column := make(map[string]graphstore.Column)
	for _, vec := range vectors {
		if len(vec) == 0 {
			continue
		}
		for _, h := range e.denseSearch(ctx, graphstore.LabelEmbedCol, dbCode, vec, e.cfg.ColumnTopDense, e.cfg.DenseScoreThreshold) {
			cols, err := e.store.OwningColumns(ctx, graphstore.LabelEmbedCol, h.Key, dbCode)
			if err != nil {
				continue
			}
			for _, c := range cols {
				if s := float64(h.Score); s > score[c.Key()] {
					score[c.Key()] = s
				}
				column[c.Key()] = c
			}
		}
	}

	for _, key := range RankFrom(score) {
		c := column[key]
		if out[c.TbCode] == nil {
			out[c.TbCode] = make(map[string]ColumnResult)
		}
		out[c.TbCode][c.ColName] = ColumnResult{Column: c, Score: score[key]}
	}
	return out, nil
}

// RetrieveCell implements retrieve_cell: per keyword, a dense+sparse
// RRF-fused search over Cell, aggregated across keywords
// by max score, grouped by owning Column with its matched cell
// contents collected into cells[] and the column score scaled by
// CellScoreScale for comparability with retrieve_column scores.
func (e *Engine) RetrieveCell(ctx context.Context, dbCode string, keywords []string) (map[string]map[string]CellColumnResult, error) {
	out := make(map[string]map[string]CellColumnResult)
	if len(keywords) == 0 {
		return out, nil
	}

	vectors, err := e.embedder.EmbedBatch(ctx, keywords)
	if err != nil {
		e.logger.Warn().Err(err).Msg("retrieve_cell embedding failed")
		vectors = nil
	}

	cellMaxFused := make(map[string]float64)
	for i, kw := range keywords {
		var vec []float32
		if i < len(vectors) {
			vec = vectors[i]
		}

		denseScore := make(map[string]float64)
		if len(vec) > 0 {
			for _, h := range e.denseSearch(ctx, graphstore.LabelCell, dbCode, vec, e.cfg.CellTopDense, e.cfg.DenseScoreThreshold) {
				if s := float64(h.Score); s > denseScore[h.Key] {
					denseScore[h.Key] = s
				}
			}
		}

		sparseScore := make(map[string]float64)
		for _, h := range e.sparseSearch(ctx, graphstore.LabelCell, dbCode, []string{kw}, e.cfg.CellTopSparse) {
			if s := float64(h.Score); s > sparseScore[h.Key] {
				sparseScore[h.Key] = s
			}
		}

		fused := Fuse(e.cfg.RRFk, RankFrom(denseScore), RankFrom(sparseScore))
		for _, key := range TopN(RankFrom(fused), e.cfg.CellTopFused) {
			if s := fused[key]; s > cellMaxFused[key] {
				cellMaxFused[key] = s
			}
		}
	}

	type colAgg struct {
		col   graphstore.Column
		cells map[string]bool
		score float64
	}
	aggByColKey := make(map[string]*colAgg)
	for content, score := range cellMaxFused {
		cols, err := e.store.OwningColumns(ctx, graphstore.LabelCell, content, dbCode)
		if err != nil {
			continue
		}
		for _, c := range cols {
			agg, ok := aggByColKey[c.Key()]
			if !ok {
				agg = &colAgg{col: c, cells: make(map[string]bool)}
				aggByColKey[c.Key()] = agg
			}
			agg.cells[content] = true
			if score > agg.score {
				agg.score = score
			}
		}
	}

	for _, agg := range aggByColKey {
		cells := make([]string, 0, len(agg.cells))
		for c := range agg.cells {
			cells = append(cells, c)
		}
		sort.Strings(cells)

		if out[agg.col.TbCode] == nil {
			out[agg.col.TbCode] = make(map[string]CellColumnResult)
		}
		out[agg.col.TbCode][agg.col.ColName] = CellColumnResult{
			Column: agg.col,
			Cells:  cells,
			Score:  agg.score * e.cfg.CellScoreScale,
		}
	}
	return out, nil
}
