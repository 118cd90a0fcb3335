package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/observability"
	"github.com/metaground/retrieval-engine/internal/retry"
)

// Dialect distinguishes the two supported relational backends.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store is the typed wrapper over the property-graph backing store.
// Every write is a parameterized, MERGE-on-declared-key upsert; no raw
// user string is ever interpolated into a query body.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	vector   VectorIndex
	fulltext FulltextIndex
	logger   *observability.Logger
	retry    retry.Policy
}

// Session is a scoped-transaction abstraction: it wraps a transaction
// and guarantees release on every exit path via Close, which is
// always safe to call (idempotent rollback-or-noop).
type Session struct {
	tx *sql.Tx
}

// Close releases the session's underlying transaction.
func (s *Session) Close() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	if err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

// NewSQLiteStore opens a SQLite-backed graph store: an in-process
// cosine vector index and an in-memory bleve full-text index, the
// dev/single-process default.
func NewSQLiteStore(cfg config.SQLiteConfig, logger *observability.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode="+dfault(cfg.JournalMode, "WAL"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	}
	return &Store{
		db:       db,
		dialect:  DialectSQLite,
		vector:   newMemVectorIndex(),
		fulltext: newBleveFulltextIndex(),
		logger:   logger,
		retry:    retry.DefaultPolicy(),
	}, nil
}

// NewPostgresStore opens a Postgres-backed graph store using the
// pgvector extension for the vector index and an in-memory bleve index
// for full text (kept backend-independent rather than tsvector, so
// both backends share one FulltextIndex implementation).
func NewPostgresStore(cfg config.PostgresConfig, logger *observability.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &Store{
		db:       db,
		dialect:  DialectPostgres,
		vector:   newPGVectorIndex(db, "graph_vector"),
		fulltext: newBleveFulltextIndex(),
		logger:   logger,
		retry:    retry.DefaultPolicy(),
	}, nil
}

func dfault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

// Close releases the store's resources.
func (st *Store) Close() error {
	if err := st.fulltext.Clear(context.Background()); err != nil {
		st.logger.Warn().Err(err).Msg("fulltext clear on close failed")
	}
	return st.db.Close()
}

func (st *Store) ph(n int) string {
	if st.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// withSession runs fn inside a session whose transaction is committed
// on success and rolled back (via Close) otherwise, guaranteeing
// release on all exit paths. Upstream I/O failures reaching the
// database driver are retried with backoff.
func (st *Store) withSession(ctx context.Context, fn func(sess *Session) error) error {
	return retry.Do(ctx, st.retry, errs.Retryable, func(ctx context.Context) error {
		tx, err := st.db.BeginTx(ctx, nil)
		if err != nil {
			return errs.New(errs.KindUpstreamIO, "begin_session", err)
		}
		sess := &Session{tx: tx}
		defer sess.Close()

		if err := fn(sess); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return errs.New(errs.KindUpstreamIO, "commit_session", err)
		}
		return nil
	})
}

// EnsureSchema creates the relational tables, constraints, and index
// scaffolding backing the property graph if they do not already
// exist, collapsing constraint/vector-index/fulltext-index setup into
// idempotent DDL since this backing store, unlike a literal graph
// driver, has no separate catalog API.
func (st *Store) EnsureSchema(ctx context.Context) error {
	jsonType := "TEXT"
	vectorCol := ""
	if st.dialect == DialectPostgres {
		jsonType = "JSONB"
		vectorCol = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS graph_vector (
	label TEXT NOT NULL,
	db_code TEXT NOT NULL,
	node_key TEXT NOT NULL,
	embedding vector(1024) NOT NULL,
	PRIMARY KEY (label, db_code, node_key)
);`)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graph_database (
			db_code TEXT PRIMARY KEY, db_name TEXT, db_type TEXT, database TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS graph_table (
			tb_code TEXT PRIMARY KEY, db_code TEXT NOT NULL, tb_name TEXT, tb_meaning TEXT
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS graph_column (
			tb_code TEXT NOT NULL, col_name TEXT NOT NULL, col_type TEXT, col_comment TEXT,
			col_meaning TEXT, field_meaning %s, col_alias %s, fewshot %s, rel_col TEXT,
			PRIMARY KEY (tb_code, col_name)
		);`, jsonType, jsonType, jsonType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS graph_knowledge (
			db_code TEXT NOT NULL, kn_code TEXT NOT NULL, kn_name TEXT, kn_desc TEXT, kn_def TEXT,
			kn_alias %s, rel_kn %s, rel_col %s,
			PRIMARY KEY (db_code, kn_code)
		);`, jsonType, jsonType, jsonType),
		`CREATE TABLE IF NOT EXISTS graph_embed_col (
			content TEXT PRIMARY KEY
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS graph_embed_kn (
			content TEXT PRIMARY KEY, tscontent %s
		);`, jsonType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS graph_cell (
			content TEXT PRIMARY KEY, tscontent %s
		);`, jsonType),
		`CREATE TABLE IF NOT EXISTS graph_edge (
			src_label TEXT NOT NULL, src_key TEXT NOT NULL, rel TEXT NOT NULL,
			dst_label TEXT NOT NULL, dst_key TEXT NOT NULL,
			PRIMARY KEY (src_label, src_key, rel, dst_label, dst_key)
		);`,
	}
	if vectorCol != "" {
		stmts = append(stmts, vectorCol)
	}

	for _, stmt := range stmts {
		if _, err := st.db.ExecContext(ctx, stmt); err != nil {
			return errs.New(errs.KindIntegrity, "ensure_schema", err)
		}
	}
	return nil
}

// ClearAll implements clear_meta: an all-or-nothing wipe of every
// node, edge, and index.
func (st *Store) ClearAll(ctx context.Context) error {
	tables := []string{"graph_edge", "graph_cell", "graph_embed_kn", "graph_embed_col",
		"graph_knowledge", "graph_column", "graph_table", "graph_database"}
	if st.dialect == DialectPostgres {
		tables = append(tables, "graph_vector")
	}
	for _, t := range tables {
		if _, err := st.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return errs.New(errs.KindIntegrity, "clear_meta", err)
		}
	}
	return st.fulltext.Clear(ctx)
}

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UpsertDatabase merges a Database node on db_code.
func (st *Store) UpsertDatabase(ctx context.Context, d Database) error {
	return st.withSession(ctx, func(sess *Session) error {
		q := st.upsertQuery("graph_database", []string{"db_code"}, []string{"db_name", "db_type", "database"})
		_, err := sess.tx.ExecContext(ctx, q, d.DBCode, d.DBName, d.DBType, d.Database)
		return err
	})
}

// UpsertTable merges a Table node and its BELONG edge to Database.
func (st *Store) UpsertTable(ctx context.Context, t Table) error {
	return st.withSession(ctx, func(sess *Session) error {
		q := st.upsertQuery("graph_table", []string{"tb_code"}, []string{"db_code", "tb_name", "tb_meaning"})
		if _, err := sess.tx.ExecContext(ctx, q, t.TbCode, t.DBCode, t.TbName, t.TbMeaning); err != nil {
			return err
		}
		return st.upsertEdgeTx(ctx, sess.tx, Edge{LabelTable, t.TbCode, RelBelong, LabelDatabase, t.DBCode})
	})
}

// UpsertColumn merges a Column node and its BELONG edge to Table. The
// Column->Column REL edge, if RelCol names an existing column, is left
// to UpsertColumnRel so that all Column nodes can be upserted first —
// a deferred relational fix-up ordering rule.
func (st *Store) UpsertColumn(ctx context.Context, c Column) error {
	return st.withSession(ctx, func(sess *Session) error {
		fieldMeaning, err := marshalJSON(c.FieldMeaning)
		if err != nil {
			return err
		}
		alias, err := marshalJSON(c.ColAlias)
		if err != nil {
			return err
		}
		fewshot, err := marshalJSON(c.Fewshot)
		if err != nil {
			return err
		}
		q := st.upsertQuery("graph_column", []string{"tb_code", "col_name"},
			[]string{"col_type", "col_comment", "col_meaning", "field_meaning", "col_alias", "fewshot", "rel_col"})
		if _, err := sess.tx.ExecContext(ctx, q, c.TbCode, c.ColName, c.ColType, c.ColComment, c.ColMeaning,
			fieldMeaning, alias, fewshot, c.RelCol); err != nil {
			return err
		}
		return st.upsertEdgeTx(ctx, sess.tx, Edge{LabelColumn, c.Key(), RelBelong, LabelTable, c.TbCode})
	})
}

// UpsertColumnRel creates a Column->Column REL edge. It is the
// caller's responsibility to only call this once both endpoints
// exist; ExistsColumn lets callers check first.
func (st *Store) UpsertColumnRel(ctx context.Context, fromTbCode, fromCol, toTbCode, toCol string) error {
	return st.withSession(ctx, func(sess *Session) error {
		return st.upsertEdgeTx(ctx, sess.tx, Edge{
			LabelColumn, ColumnKey(fromTbCode, fromCol), RelRel, LabelColumn, ColumnKey(toTbCode, toCol),
		})
	})
}

// ExistsColumn reports whether (tbCode, colName) has been upserted.
func (st *Store) ExistsColumn(ctx context.Context, tbCode, colName string) (bool, error) {
	var n int
	q := fmt.Sprintf("SELECT count(*) FROM graph_column WHERE tb_code = %s AND col_name = %s", st.ph(1), st.ph(2))
	err := st.db.QueryRowContext(ctx, q, tbCode, colName).Scan(&n)
	return n > 0, err
}

// UpsertKnowledge merges a Knowledge node and its BELONG edge to
// Database. CONTAIN and REL edges are resolved separately once all
// Knowledge/Column nodes for the database exist.
func (st *Store) UpsertKnowledge(ctx context.Context, k Knowledge) error {
	return st.withSession(ctx, func(sess *Session) error {
		alias, err := marshalJSON(k.KnAlias)
		if err != nil {
			return err
		}
		relKn, err := marshalJSON(k.RelKn)
		if err != nil {
			return err
		}
		relCol, err := marshalJSON(k.RelCol)
		if err != nil {
			return err
		}
		q := st.upsertQuery("graph_knowledge", []string{"db_code", "kn_code"},
			[]string{"kn_name", "kn_desc", "kn_def", "kn_alias", "rel_kn", "rel_col"})
		if _, err := sess.tx.ExecContext(ctx, q, k.DBCode, k.KnCode, k.KnName, k.KnDesc, k.KnDef, alias, relKn, relCol); err != nil {
			return err
		}
		return st.upsertEdgeTx(ctx, sess.tx, Edge{LabelKnowledge, k.Key(), RelBelong, LabelDatabase, k.DBCode})
	})
}

// UpsertKnowledgeContain creates a Knowledge -[:CONTAIN]-> Knowledge edge.
func (st *Store) UpsertKnowledgeContain(ctx context.Context, parentKey, childKey string) error {
	return st.withSession(ctx, func(sess *Session) error {
		return st.upsertEdgeTx(ctx, sess.tx, Edge{LabelKnowledge, parentKey, RelContain, LabelKnowledge, childKey})
	})
}

// UpsertKnowledgeColumnRel creates a Knowledge -[:REL]-> Column edge,
// resolved by (tb_name, col_name) inside the same Database.
func (st *Store) UpsertKnowledgeColumnRel(ctx context.Context, knKey, colKey string) error {
	return st.withSession(ctx, func(sess *Session) error {
		return st.upsertEdgeTx(ctx, sess.tx, Edge{LabelKnowledge, knKey, RelRel, LabelColumn, colKey})
	})
}

// UpsertEmbedCol merges an EmbedCol atom on content and links it to
// its owning Column. The embed vector is written only when non-empty.
// Unchanged atoms are not skipped: each ingestion run embeds its atoms
// again and this call overwrites the stored vector.
func (st *Store) UpsertEmbedCol(ctx context.Context, e EmbedCol, dbCode string, owner Column) error {
	return st.withSession(ctx, func(sess *Session) error {
		q := st.upsertQuery("graph_embed_col", []string{"content"}, nil)
		if _, err := sess.tx.ExecContext(ctx, q, e.Content); err != nil {
			return err
		}
		if err := st.upsertEdgeTx(ctx, sess.tx, Edge{LabelEmbedCol, e.Content, RelBelong, LabelColumn, owner.Key()}); err != nil {
			return err
		}
		if len(e.Embed) > 0 {
			if err := st.vector.Upsert(ctx, LabelEmbedCol, dbCode, e.Content, e.Embed); err != nil {
				return errs.New(errs.KindUpstreamIO, "upsert_embed_col_vector", err)
			}
		}
		return nil
	})
}

// UpsertEmbedKn merges an EmbedKn atom and links it to its owning Knowledge.
func (st *Store) UpsertEmbedKn(ctx context.Context, e EmbedKn, dbCode string, owner Knowledge) error {
	return st.withSession(ctx, func(sess *Session) error {
		ts, err := marshalJSON(e.TSContent)
		if err != nil {
			return err
		}
		q := st.upsertQuery("graph_embed_kn", []string{"content"}, []string{"tscontent"})
		if _, err := sess.tx.ExecContext(ctx, q, e.Content, ts); err != nil {
			return err
		}
		if err := st.upsertEdgeTx(ctx, sess.tx, Edge{LabelEmbedKn, e.Content, RelBelong, LabelKnowledge, owner.Key()}); err != nil {
			return err
		}
		if len(e.Embed) > 0 {
			if err := st.vector.Upsert(ctx, LabelEmbedKn, dbCode, e.Content, e.Embed); err != nil {
				return errs.New(errs.KindUpstreamIO, "upsert_embed_kn_vector", err)
			}
		}
		if len(e.TSContent) > 0 {
			if err := st.fulltext.Upsert(ctx, LabelEmbedKn, dbCode, e.Content, e.TSContent); err != nil {
				return errs.New(errs.KindUpstreamIO, "upsert_embed_kn_fulltext", err)
			}
		}
		return nil
	})
}

// UpsertCell merges a Cell atom and links it to its owning Column.
func (st *Store) UpsertCell(ctx context.Context, c Cell, dbCode string, owner Column) error {
	return st.withSession(ctx, func(sess *Session) error {
		ts, err := marshalJSON(c.TSContent)
		if err != nil {
			return err
		}
		q := st.upsertQuery("graph_cell", []string{"content"}, []string{"tscontent"})
		if _, err := sess.tx.ExecContext(ctx, q, c.Content, ts); err != nil {
			return err
		}
		if err := st.upsertEdgeTx(ctx, sess.tx, Edge{LabelCell, c.Content, RelBelong, LabelColumn, owner.Key()}); err != nil {
			return err
		}
		if len(c.Embed) > 0 {
			if err := st.vector.Upsert(ctx, LabelCell, dbCode, c.Content, c.Embed); err != nil {
				return errs.New(errs.KindUpstreamIO, "upsert_cell_vector", err)
			}
		}
		if len(c.TSContent) > 0 {
			if err := st.fulltext.Upsert(ctx, LabelCell, dbCode, c.Content, c.TSContent); err != nil {
				return errs.New(errs.KindUpstreamIO, "upsert_cell_fulltext", err)
			}
		}
		return nil
	})
}

func (st *Store) upsertEdgeTx(ctx context.Context, tx *sql.Tx, e Edge) error {
	var q string
	if st.dialect == DialectPostgres {
		q = `INSERT INTO graph_edge (src_label, src_key, rel, dst_label, dst_key)
			VALUES ($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING`
	} else {
		q = `INSERT OR IGNORE INTO graph_edge (src_label, src_key, rel, dst_label, dst_key) VALUES (?,?,?,?,?)`
	}
	_, err := tx.ExecContext(ctx, q, string(e.SrcLabel), e.SrcKey, string(e.Rel), string(e.DstLabel), e.DstKey)
	return err
}

// upsertQuery builds a MERGE-style upsert statement over the given
// key/value columns for either dialect.
func (st *Store) upsertQuery(table string, keyCols, valCols []string) string {
	allCols := append(append([]string{}, keyCols...), valCols...)
	placeholders := make([]string, len(allCols))
	for i := range allCols {
		placeholders[i] = st.ph(i + 1)
	}
	base := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, join(allCols), join(placeholders))
	if len(valCols) == 0 {
		if st.dialect == DialectPostgres {
			return base + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", join(keyCols))
		}
		return "INSERT OR IGNORE INTO " + base[len("INSERT INTO "):]
	}
	sets := make([]string, len(valCols))
	for i, c := range valCols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	if st.dialect == DialectPostgres {
		return base + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", join(keyCols), join(sets))
	}
	// SQLite: emulate upsert via ON CONFLICT clause (SQLite >= 3.24).
	return base + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", join(keyCols), join(sets))
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
