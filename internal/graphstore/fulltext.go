package graphstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// FulltextHit is one full-text match.
type FulltextHit struct {
	Key   string
	Score float32
}

// FulltextIndex is the sparse/keyword side of the graph store's
// indexes, backing EmbedKn.tscontent and Cell.tscontent. An in-memory
// bleve index is built per (Label, DBCode) scope; bleve's built-in
// analyzers give CJK + English tokenization for free, which the
// engine needs to split on Chinese/English sentence punctuation.
type FulltextIndex interface {
	Upsert(ctx context.Context, label Label, dbCode, key string, tscontent []string) error
	Search(ctx context.Context, label Label, dbCode string, keywords []string, topK int) ([]FulltextHit, error)
	Delete(ctx context.Context, label Label, dbCode, key string) error
	Clear(ctx context.Context) error
}

type ftDoc struct {
	Text string `json:"text"`
}

type bleveFulltextIndex struct {
	mu      sync.RWMutex
	indexes map[string]bleve.Index // "{label}:{db_code}" -> index
}

func newBleveFulltextIndex() *bleveFulltextIndex {
	return &bleveFulltextIndex{indexes: make(map[string]bleve.Index)}
}

func scopeKey(label Label, dbCode string) string { return fmt.Sprintf("%s:%s", label, dbCode) }

func (b *bleveFulltextIndex) scope(label Label, dbCode string) (bleve.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := scopeKey(label, dbCode)
	if idx, ok := b.indexes[key]; ok {
		return idx, nil
	}
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	b.indexes[key] = idx
	return idx, nil
}

func (b *bleveFulltextIndex) Upsert(ctx context.Context, label Label, dbCode, key string, tscontent []string) error {
	idx, err := b.scope(label, dbCode)
	if err != nil {
		return err
	}
	if err := idx.Index(key, ftDoc{Text: strings.Join(tscontent, " ")}); err != nil {
		return fmt.Errorf("bleve index doc: %w", err)
	}
	return nil
}

func (b *bleveFulltextIndex) Search(ctx context.Context, label Label, dbCode string, keywords []string, topK int) ([]FulltextHit, error) {
	idx, err := b.scope(label, dbCode)
	if err != nil {
		return nil, err
	}

	// OR-joined query across the supplied keywords.
	var disjuncts []bleve.Query
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		disjuncts = append(disjuncts, bleve.NewMatchQuery(kw))
	}
	if len(disjuncts) == 0 {
		return nil, nil
	}
	q := bleve.NewDisjunctionQuery(disjuncts...)

	req := bleve.NewSearchRequest(q)
	req.Size = topK
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	hits := make([]FulltextHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, FulltextHit{Key: h.ID, Score: float32(h.Score)})
	}
	return hits, nil
}

func (b *bleveFulltextIndex) Delete(ctx context.Context, label Label, dbCode, key string) error {
	idx, err := b.scope(label, dbCode)
	if err != nil {
		return err
	}
	return idx.Delete(key)
}

func (b *bleveFulltextIndex) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, idx := range b.indexes {
		_ = idx.Close()
		delete(b.indexes, k)
	}
	return nil
}
