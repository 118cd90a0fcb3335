package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pgvector/pgvector-go"
)

// VectorHit is one nearest-neighbor result.
type VectorHit struct {
	Key   string
	Score float32 // cosine similarity, 1 - distance
}

// VectorIndex is the dense-vector side of the graph store's indexes:
// a single instance serves every (Label, DBCode) scope, passed on each
// call. Grounded on
// internal/retrieval/vector_adapter.go's VectorAdapter interface,
// generalized from chunk entries to bare (key, vector) pairs scoped by
// label/db_code rather than tenant/product.
type VectorIndex interface {
	Upsert(ctx context.Context, label Label, dbCode, key string, vector []float32) error
	Search(ctx context.Context, label Label, dbCode string, query []float32, topK int, minScore float32) ([]VectorHit, error)
	Delete(ctx context.Context, label Label, dbCode, key string) error
	Count(ctx context.Context, label Label, dbCode string) (int, error)
}

// memVectorIndex is an in-process cosine-similarity index, the SQLite
// backend's vector store and the dev/test default: normalized
// vectors, brute-force cosine scan, sorted top-k.
type memVectorIndex struct {
	mu   sync.RWMutex
	data map[Label]map[string]map[string][]float32 // label -> db_code -> key -> vector
}

func newMemVectorIndex() *memVectorIndex {
	return &memVectorIndex{data: make(map[Label]map[string]map[string][]float32)}
}

func (m *memVectorIndex) Upsert(ctx context.Context, label Label, dbCode, key string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[label] == nil {
		m.data[label] = make(map[string]map[string][]float32)
	}
	if m.data[label][dbCode] == nil {
		m.data[label][dbCode] = make(map[string][]float32)
	}
	m.data[label][dbCode][key] = normalize(vector)
	return nil
}

func (m *memVectorIndex) Search(ctx context.Context, label Label, dbCode string, query []float32, topK int, minScore float32) ([]VectorHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scope := m.data[label][dbCode]
	if len(scope) == 0 {
		return nil, nil
	}

	q := normalize(query)
	hits := make([]VectorHit, 0, len(scope))
	for key, vec := range scope {
		if len(vec) != len(q) {
			continue
		}
		score := dot(q, vec)
		if score < minScore {
			continue
		}
		hits = append(hits, VectorHit{Key: key, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *memVectorIndex) Delete(ctx context.Context, label Label, dbCode, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if scope := m.data[label][dbCode]; scope != nil {
		delete(scope, key)
	}
	return nil
}

func (m *memVectorIndex) Count(ctx context.Context, label Label, dbCode string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[label][dbCode]), nil
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// pgVectorIndex stores vectors in a Postgres table using the pgvector
// column type (github.com/pgvector/pgvector-go), queried with the
// `<=>` cosine-distance operator; EnsureSchema (store.go) creates no
// ivfflat/hnsw index on the table. Grounded on
// MrWong99-glyphoxa's jackc/pgx+pgvector-go stack, adapted to
// database/sql + lib/pq since pgvector.Vector implements
// sql.Scanner/driver.Valuer independent of driver.
type pgVectorIndex struct {
	db    *sql.DB
	table string
}

func newPGVectorIndex(db *sql.DB, table string) *pgVectorIndex {
	return &pgVectorIndex{db: db, table: table}
}

func (p *pgVectorIndex) Upsert(ctx context.Context, label Label, dbCode, key string, vector []float32) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (label, db_code, node_key, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (label, db_code, node_key) DO UPDATE SET embedding = EXCLUDED.embedding`, p.table)
	_, err := p.db.ExecContext(ctx, q, string(label), dbCode, key, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("pgvector upsert: %w", err)
	}
	return nil
}

func (p *pgVectorIndex) Search(ctx context.Context, label Label, dbCode string, query []float32, topK int, minScore float32) ([]VectorHit, error) {
	q := fmt.Sprintf(`
		SELECT node_key, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE label = $2 AND db_code = $3
		ORDER BY embedding <=> $1
		LIMIT $4`, p.table)
	rows, err := p.db.QueryContext(ctx, q, pgvector.NewVector(query), string(label), dbCode, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.Key, &h.Score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		if h.Score < minScore {
			continue
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (p *pgVectorIndex) Delete(ctx context.Context, label Label, dbCode, key string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE label = $1 AND db_code = $2 AND node_key = $3`, p.table)
	_, err := p.db.ExecContext(ctx, q, string(label), dbCode, key)
	return err
}

func (p *pgVectorIndex) Count(ctx context.Context, label Label, dbCode string) (int, error) {
	q := fmt.Sprintf(`SELECT count(*) FROM %s WHERE label = $1 AND db_code = $2`, p.table)
	var n int
	err := p.db.QueryRowContext(ctx, q, string(label), dbCode).Scan(&n)
	return n, err
}
