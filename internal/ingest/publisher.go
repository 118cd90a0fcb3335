// publisher.go covers the embedding/upsert side of ingestion: batching
// column atoms into groups of 128 (spec §4.2 step 6) and streaming
// cell ingestion in row partitions of 5000 under a bounded-concurrency
// fan-out of 20 (spec §4.3/§5).
package ingest

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/keyword"
)

const atomBatchSize = 128

// embedAndUpsertColumnAtoms emits the atom set for every column (spec
// §4.2 step 5: name, comment, fewshots, meaning, field_meaning leaves,
// aliases), batches them in groups of atomBatchSize, embeds each
// batch, and upserts EmbedCol nodes linked back to their owning
// Column.
func (p *Pipeline) embedAndUpsertColumnAtoms(ctx context.Context, dbCode string, cols map[string]graphstore.Column) error {
	type pending struct {
		content string
		owner   graphstore.Column
	}
	var atoms []pending
	seen := make(map[string]bool)
	addAtom := func(content string, owner graphstore.Column) {
		content = strings.TrimSpace(content)
		if content == "" || isNumericString(content) {
			return
		}
		key := owner.Key() + "\x00" + content
		if seen[key] {
			return
		}
		seen[key] = true
		atoms = append(atoms, pending{content: content, owner: owner})
	}

	for _, col := range cols {
		addAtom(col.ColName, col)
		if col.ColComment != "" {
			addAtom(col.ColComment, col)
		}
		for _, fs := range col.Fewshot {
			addAtom(fs, col)
		}
		if col.ColMeaning != "" {
			addAtom(col.ColMeaning, col)
		}
		for _, leaf := range flattenFieldMeaning(col.FieldMeaning) {
			addAtom(leaf, col)
		}
		for _, alias := range col.ColAlias {
			addAtom(alias, col)
		}
	}

	for start := 0; start < len(atoms); start += atomBatchSize {
		end := start + atomBatchSize
		if end > len(atoms) {
			end = len(atoms)
		}
		batch := atoms[start:end]

		texts := make([]string, len(batch))
		for i, a := range batch {
			texts[i] = a.content
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			p.logger.Warn().Err(err).Int("batch_start", start).Msg("column atom batch embedding failed, skipping batch")
			continue
		}
		for i, a := range batch {
			var vec []float32
			if i < len(vectors) {
				vec = vectors[i]
			}
			e := graphstore.EmbedCol{Content: a.content, Embed: vec}
			if err := p.store.UpsertEmbedCol(ctx, e, dbCode, a.owner); err != nil {
				p.logger.Warn().Err(err).Str("content", a.content).Msg("embed_col upsert failed")
			}
		}
	}

	return nil
}

// ingestCells streams the sync-set columns of one table in row
// partitions of cellPartitionSize, collects distinct non-empty
// non-numeric string values into processing batches of atomBatchSize,
// and fans out embedding+keyword-extraction under a semaphore of
// cellMaxConcurrent created per call (so per table) (spec §4.2 "Cell ingestion").
func (p *Pipeline) ingestCells(ctx context.Context, srcDB *sql.DB, dbCfg config.SourceDBConfig, decl config.TableDecl, cols map[string]graphstore.Column) error {
	syncSet := syncSetColumns(decl, cols)
	if len(syncSet) == 0 {
		return nil
	}

	colList := make([]string, 0, len(syncSet))
	for name := range syncSet {
		colList = append(colList, name)
	}

	quoted := make([]string, len(colList))
	for i, c := range colList {
		quoted[i] = QuoteIdent(dbCfg.DBType, c)
	}
	q := "SELECT " + strings.Join(quoted, ", ") + " FROM " + QuoteIdent(dbCfg.DBType, decl.TbName)

	rows, err := srcDB.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	sem := semaphore.NewWeighted(int64(maxInt(p.cfg.CellMaxConcurrent, 1)))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	partitionSize := p.cfg.CellPartitionSize
	if partitionSize <= 0 {
		partitionSize = 5000
	}

	scanBuf := make([]sql.RawBytes, len(colList))
	scanArgs := make([]interface{}, len(colList))
	for i := range scanBuf {
		scanArgs[i] = &scanBuf[i]
	}

	partitionDistinct := make(map[string]map[string]bool, len(colList))
	resetPartition := func() {
		for _, c := range colList {
			partitionDistinct[c] = make(map[string]bool)
		}
	}
	resetPartition()

	flush := func(partition map[string]map[string]bool) {
		for colName, values := range partition {
			owner := cols[colName]
			vals := make([]string, 0, len(values))
			for v := range values {
				vals = append(vals, v)
			}
			for start := 0; start < len(vals); start += atomBatchSize {
				end := start + atomBatchSize
				if end > len(vals) {
					end = len(vals)
				}
				batch := vals[start:end]

				wg.Add(1)
				go func(owner graphstore.Column, batch []string) {
					defer wg.Done()
					if err := sem.Acquire(ctx, 1); err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
						return
					}
					defer sem.Release(1)

					vectors, err := p.embedder.EmbedBatch(ctx, batch)
					if err != nil {
						p.logger.Warn().Err(err).Str("column", owner.Key()).Msg("cell batch embedding failed, skipping batch")
						return
					}
					for i, content := range batch {
						var vec []float32
						if i < len(vectors) {
							vec = vectors[i]
						}
						ts, _ := keyword.Extract(ctx, content)
						c := graphstore.Cell{Content: content, Embed: vec, TSContent: ts}
						if err := p.store.UpsertCell(ctx, c, dbCfg.DBCode, owner); err != nil {
							p.logger.Warn().Err(err).Str("content", content).Msg("cell upsert failed")
						}
					}
				}(owner, batch)
			}
		}
	}

	rowCount := 0
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return err
		}
		for i, c := range colList {
			if scanBuf[i] == nil {
				continue
			}
			v := strings.TrimSpace(string(scanBuf[i]))
			if v == "" || isNumericString(v) {
				continue
			}
			partitionDistinct[c][v] = true
		}
		rowCount++
		if rowCount%partitionSize == 0 {
			snapshot := partitionDistinct
			flush(snapshot)
			resetPartition()
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	flush(partitionDistinct)

	wg.Wait()
	return firstErr
}

// syncSetColumns computes the sync-set: string-typed columns named in
// sync_col (or all string columns when sync_col is nil) minus
// no_sync_col (spec §3/GLOSSARY "Sync set").
func syncSetColumns(decl config.TableDecl, cols map[string]graphstore.Column) map[string]graphstore.Column {
	noSync := make(map[string]bool, len(decl.NoSyncCol))
	for _, c := range decl.NoSyncCol {
		noSync[c] = true
	}

	var allow map[string]bool
	if decl.SyncCol != nil {
		allow = make(map[string]bool, len(decl.SyncCol))
		for _, c := range decl.SyncCol {
			allow[c] = true
		}
	}

	out := make(map[string]graphstore.Column)
	for name, col := range cols {
		if noSync[name] {
			continue
		}
		if allow != nil && !allow[name] {
			continue
		}
		if !isStringColumn(col.ColType) {
			continue
		}
		out[name] = col
	}
	return out
}

func isStringColumn(colType string) bool {
	t := strings.ToLower(colType)
	for _, marker := range []string{"char", "text", "enum", "string", "uuid"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
