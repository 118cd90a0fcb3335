// pipeline.go is the per-database ingestion orchestrator (spec §4.2):
// discovery + fewshot + config merge, Column/Table/FK upsert, and the
// deferred Column->Column and Knowledge->Column REL fix-ups that must
// wait until every Column node for the database exists (spec §3's
// ordering invariant).
package ingest

import (
	"context"
	"database/sql"
	"strings"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/embedding"
	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/keyword"
	"github.com/metaground/retrieval-engine/internal/observability"
)

// Pipeline ingests one or more source databases into the graph store,
// matching the stage order and per-table error-absorption style of
// the teacher's ingest pipeline, generalized from document/brochure
// semantics to relational-database metadata semantics.
type Pipeline struct {
	store    *graphstore.Store
	embedder embedding.Embedder
	cfg      config.IngestionConfig
	logger   *observability.Logger
}

// New builds an ingestion Pipeline.
func New(store *graphstore.Store, embedder embedding.Embedder, cfg config.IngestionConfig, logger *observability.Logger) *Pipeline {
	return &Pipeline{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// IngestDatabase runs the full ingestion pipeline for one registered
// database: Database -> Table -> Column -> (Column REL, Knowledge,
// Knowledge REL, EmbedCol, EmbedKn) -> Cell, per spec §5's ordering
// guarantee. Per-table errors are logged and skipped; they never abort
// ingestion of the other tables (spec §4.2 failure semantics).
func (p *Pipeline) IngestDatabase(ctx context.Context, dbCfg config.SourceDBConfig) error {
	log := p.logger.WithOperation("ingest_database").WithTenant(dbCfg.DBCode)

	if err := p.store.UpsertDatabase(ctx, graphstore.Database{
		DBCode: dbCfg.DBCode, DBName: dbCfg.DBName, DBType: dbCfg.DBType, Database: dbCfg.Database,
	}); err != nil {
		return errs.New(errs.KindIntegrity, "upsert_database", err)
	}

	srcDB, err := openSourceDB(dbCfg)
	if err != nil {
		return err
	}
	defer srcDB.Close()

	allColumns := make(map[string]map[string]graphstore.Column) // tb_code -> col_name -> Column
	tbNameToCode := make(map[string]string)

	for _, decl := range dbCfg.Tables {
		tbNameToCode[decl.TbName] = decl.TbCode
		cols, err := p.ingestTable(ctx, srcDB, dbCfg, decl)
		if err != nil {
			log.Error().Err(err).Str("table", decl.TbCode).Msg("table ingestion failed, skipping")
			continue
		}
		allColumns[decl.TbCode] = cols
	}

	// Deferred Column->Column REL fix-up: only now that every Column
	// node for the database exists (spec §3 ordering invariant).
	for tbCode, cols := range allColumns {
		for colName, col := range cols {
			if col.RelCol == "" {
				continue
			}
			toTbCode, toCol, ok := resolveRelCol(col.RelCol, tbNameToCode)
			if !ok {
				continue
			}
			exists, err := p.store.ExistsColumn(ctx, toTbCode, toCol)
			if err != nil || !exists {
				continue
			}
			if err := p.store.UpsertColumnRel(ctx, tbCode, colName, toTbCode, toCol); err != nil {
				log.Warn().Err(err).Str("column", tbCode+"."+colName).Msg("column rel upsert failed")
			}
		}
	}

	if err := p.ingestKnowledge(ctx, dbCfg, tbNameToCode); err != nil {
		log.Error().Err(err).Msg("knowledge ingestion failed")
	}

	for _, decl := range dbCfg.Tables {
		cols, ok := allColumns[decl.TbCode]
		if !ok {
			continue
		}
		if err := p.ingestCells(ctx, srcDB, dbCfg, decl, cols); err != nil {
			log.Error().Err(err).Str("table", decl.TbCode).Msg("cell ingestion failed, skipping")
		}
	}

	return nil
}

// resolveRelCol parses a "tbl.col" FK hint and resolves the table name
// to its configured tb_code.
func resolveRelCol(relCol string, tbNameToCode map[string]string) (tbCode, col string, ok bool) {
	parts := strings.SplitN(relCol, ".", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	tbCode, ok = tbNameToCode[parts[0]]
	if !ok {
		// Already a tb_code rather than a tb_name.
		tbCode, ok = parts[0], true
	}
	return tbCode, parts[1], ok
}

// ingestTable runs steps 1-6 of spec §4.2 for a single table: discover
// columns/FKs, sample fewshot values, merge with config overrides,
// upsert Table + Column + BELONG edges, then emit and embed every
// column atom.
func (p *Pipeline) ingestTable(ctx context.Context, srcDB *sql.DB, dbCfg config.SourceDBConfig, decl config.TableDecl) (map[string]graphstore.Column, error) {
	attrs, err := DiscoverColumns(ctx, srcDB, dbCfg, decl.TbName)
	if err != nil {
		return nil, err
	}

	fewshot, err := SampleFewshot(ctx, srcDB, decl.TbName, func(name string) string { return QuoteIdent(dbCfg.DBType, name) },
		p.cfg.FewshotSampleLimit, p.cfg.FewshotQuota, p.cfg.FewshotMaxLen)
	if err != nil {
		p.logger.Warn().Err(err).Str("table", decl.TbCode).Msg("fewshot sampling failed, continuing without samples")
		fewshot = map[string][]string{}
	}

	cols := mergeColumns(decl, attrs, fewshot)

	if err := p.store.UpsertTable(ctx, graphstore.Table{
		TbCode: decl.TbCode, DBCode: dbCfg.DBCode, TbName: decl.TbName, TbMeaning: decl.TbMeaning,
	}); err != nil {
		return nil, errs.New(errs.KindIntegrity, "upsert_table", err)
	}

	for _, col := range cols {
		if err := p.store.UpsertColumn(ctx, col); err != nil {
			return nil, errs.New(errs.KindIntegrity, "upsert_column", err)
		}
	}

	if err := p.embedAndUpsertColumnAtoms(ctx, dbCfg.DBCode, cols); err != nil {
		p.logger.Warn().Err(err).Str("table", decl.TbCode).Msg("column atom embedding failed")
	}

	return cols, nil
}

// mergeColumns combines discovery output, fewshot samples, and config
// overrides into the final Column set (spec §4.2 step 3). Config
// rel_col overrides the discovered FK target.
func mergeColumns(decl config.TableDecl, attrs map[string]ColumnAttrs, fewshot map[string][]string) map[string]graphstore.Column {
	names := make(map[string]bool)
	for n := range attrs {
		names[n] = true
	}
	for n := range fewshot {
		names[n] = true
	}
	for n := range decl.Column {
		names[n] = true
	}

	out := make(map[string]graphstore.Column, len(names))
	for name := range names {
		a := attrs[name]
		col := graphstore.Column{
			TbCode:     decl.TbCode,
			ColName:    name,
			ColType:    a.ColType,
			ColComment: a.ColComment,
			RelCol:     a.FKTarget,
			Fewshot:    fewshot[name],
		}
		if override, ok := decl.Column[name]; ok {
			if override.ColMeaning != "" {
				col.ColMeaning = override.ColMeaning
			}
			if len(override.ColAlias) > 0 {
				col.ColAlias = override.ColAlias
			}
			if override.FieldMeaning != nil {
				col.FieldMeaning = override.FieldMeaning
			}
			if override.RelCol != "" {
				col.RelCol = override.RelCol
			}
		}
		out[name] = col
	}
	return out
}

// flattenFieldMeaning recursively flattens a nested semantic map into
// its leaf string values (spec §4.2 step 5: "each leaf value of
// field_meaning").
func flattenFieldMeaning(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case map[string]interface{}:
		for _, sub := range t {
			out = append(out, flattenFieldMeaning(sub)...)
		}
	case []interface{}:
		for _, sub := range t {
			out = append(out, flattenFieldMeaning(sub)...)
		}
	case string:
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}

// ingestKnowledge ingests every knowledge declaration for dbCfg:
// upsert Knowledge, embed its atoms into EmbedKn, and resolve its
// CONTAIN (from rel_kn) and REL-to-Column (from rel_col) edges.
func (p *Pipeline) ingestKnowledge(ctx context.Context, dbCfg config.SourceDBConfig, tbNameToCode map[string]string) error {
	for _, decl := range dbCfg.Knowledge {
		k := graphstore.Knowledge{
			DBCode:  dbCfg.DBCode,
			KnCode:  decl.KnCode,
			KnName:  decl.KnName,
			KnDesc:  decl.KnDesc,
			KnDef:   decl.KnDef,
			KnAlias: decl.KnAlias,
			RelKn:   decl.RelKn,
			RelCol:  decl.RelCol,
		}
		if err := p.store.UpsertKnowledge(ctx, k); err != nil {
			p.logger.Warn().Err(err).Str("knowledge", k.Key()).Msg("knowledge upsert failed")
			continue
		}

		atoms := []string{k.KnName, k.KnDesc}
		atoms = append(atoms, k.KnAlias...)
		if err := p.embedAndUpsertKnowledgeAtoms(ctx, dbCfg.DBCode, k, atoms); err != nil {
			p.logger.Warn().Err(err).Str("knowledge", k.Key()).Msg("knowledge atom embedding failed")
		}

		for _, relKnCode := range k.RelKn {
			if err := p.store.UpsertKnowledgeContain(ctx, k.Key(), graphstore.KnowledgeKey(dbCfg.DBCode, relKnCode)); err != nil {
				p.logger.Warn().Err(err).Str("knowledge", k.Key()).Msg("knowledge contain edge failed")
			}
		}

		for _, relCol := range k.RelCol {
			tbName, colName, ok := splitTableDotColumn(relCol)
			if !ok {
				continue
			}
			col, found, err := p.store.GetColumnByName(ctx, dbCfg.DBCode, tbName, colName)
			if err != nil || !found {
				continue
			}
			if err := p.store.UpsertKnowledgeColumnRel(ctx, k.Key(), col.Key()); err != nil {
				p.logger.Warn().Err(err).Str("knowledge", k.Key()).Msg("knowledge column rel failed")
			}
		}
	}
	return nil
}

func splitTableDotColumn(s string) (tbl, col string, ok bool) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// embedAndUpsertKnowledgeAtoms embeds and upserts every non-empty atom
// for one Knowledge node, tokenizing each atom for its tscontent.
func (p *Pipeline) embedAndUpsertKnowledgeAtoms(ctx context.Context, dbCode string, k graphstore.Knowledge, atoms []string) error {
	unique := dedupNonEmpty(atoms)
	if len(unique) == 0 {
		return nil
	}
	vectors, err := p.embedder.EmbedBatch(ctx, unique)
	if err != nil {
		return err
	}
	for i, content := range unique {
		var vec []float32
		if i < len(vectors) {
			vec = vectors[i]
		}
		ts, err := keyword.Extract(ctx, content)
		if err != nil {
			ts = nil
		}
		e := graphstore.EmbedKn{Content: content, Embed: vec, TSContent: ts}
		if err := p.store.UpsertEmbedKn(ctx, e, dbCode, k); err != nil {
			return err
		}
	}
	return nil
}

func dedupNonEmpty(atoms []string) []string {
	seen := make(map[string]bool, len(atoms))
	var out []string
	for _, a := range atoms {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
