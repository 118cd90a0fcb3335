// Package ingest implements the metadata ingestor (spec §4.2): source
// database introspection, fewshot sampling, config merge, and the
// embedding/knowledge/cell upsert pipeline into the graph store.
//
// parser.go covers attribute discovery (step 1) and fewshot sampling
// (step 2): connecting to one source database per ingestion session
// (no pooling, since ingestion is not a hot path per spec §5) and
// reading its schema and sample rows.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/errs"
)

// ColumnAttrs is the col_name -> {type, comment, fk_target} mapping
// produced by attribute discovery (spec §4.2 step 1).
type ColumnAttrs struct {
	ColType    string
	ColComment string
	FKTarget   string // "tbl.col", empty if none
}

// openSourceDB opens a fresh connection to the source database named
// in cfg. No connection pooling is configured beyond the driver
// default: the connection lives for one IngestDatabase call.
func openSourceDB(cfg config.SourceDBConfig) (*sql.DB, error) {
	switch cfg.DBType {
	case "mysql":
		db, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "open_source_db", err)
		}
		return db, nil
	case "postgresql":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "open_source_db", err)
		}
		return db, nil
	default:
		return nil, errs.New(errs.KindConfig, "open_source_db", fmt.Errorf("unsupported db_type %q", cfg.DBType))
	}
}

// DiscoverColumns introspects tbName's columns (name, type, comment)
// and foreign keys, returning a col_name -> ColumnAttrs mapping (spec
// §4.2 step 1).
func DiscoverColumns(ctx context.Context, db *sql.DB, cfg config.SourceDBConfig, tbName string) (map[string]ColumnAttrs, error) {
	var q string
	var args []interface{}
	switch cfg.DBType {
	case "mysql":
		q = `SELECT COLUMN_NAME, DATA_TYPE, COLUMN_COMMENT
			FROM information_schema.columns
			WHERE table_schema = ? AND table_name = ?
			ORDER BY ORDINAL_POSITION`
		args = []interface{}{cfg.Database, tbName}
	case "postgresql":
		q = `SELECT column_name, data_type, COALESCE(col_description(
				(quote_ident($1) || '.' || quote_ident($2))::regclass::oid, ordinal_position), '')
			FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2
			ORDER BY ordinal_position`
		args = []interface{}{cfg.Database, tbName}
	default:
		return nil, errs.New(errs.KindConfig, "discover_columns", fmt.Errorf("unsupported db_type %q", cfg.DBType))
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "discover_columns", err)
	}
	defer rows.Close()

	attrs := make(map[string]ColumnAttrs)
	for rows.Next() {
		var name, colType, comment string
		if err := rows.Scan(&name, &colType, &comment); err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "discover_columns_scan", err)
		}
		attrs[name] = ColumnAttrs{ColType: colType, ColComment: comment}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "discover_columns_rows", err)
	}

	fks, err := discoverForeignKeys(ctx, db, cfg, tbName)
	if err != nil {
		return nil, err
	}
	for col, target := range fks {
		a := attrs[col]
		a.FKTarget = target
		attrs[col] = a
	}

	return attrs, nil
}

func discoverForeignKeys(ctx context.Context, db *sql.DB, cfg config.SourceDBConfig, tbName string) (map[string]string, error) {
	var q string
	var args []interface{}
	switch cfg.DBType {
	case "mysql":
		q = `SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
			FROM information_schema.key_column_usage
			WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL`
		args = []interface{}{cfg.Database, tbName}
	case "postgresql":
		q = `SELECT kcu.column_name, ccu.table_name AS referenced_table, ccu.column_name AS referenced_column
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name
			JOIN information_schema.constraint_column_usage ccu ON tc.constraint_name = ccu.constraint_name
			WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2`
		args = []interface{}{cfg.Database, tbName}
	default:
		return nil, errs.New(errs.KindConfig, "discover_foreign_keys", fmt.Errorf("unsupported db_type %q", cfg.DBType))
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "discover_foreign_keys", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var col, refTable, refCol string
		if err := rows.Scan(&col, &refTable, &refCol); err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "discover_foreign_keys_scan", err)
		}
		out[col] = refTable + "." + refCol
	}
	return out, rows.Err()
}

// isNumericString reports whether s parses as a floating-point number
// — the numeric-string filter shared by fewshot sampling and cell
// ingestion (spec §4.2/§4.3: "cells are semantic, not numeric").
func isNumericString(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// SampleFewshot runs `SELECT * FROM tbName LIMIT sampleLimit`,
// streaming rows and collecting up to quota distinct non-null,
// non-whitespace, non-numeric values per column, each truncated to
// maxLen chars, terminating the scan early once every known column
// has reached quota (spec §4.2 step 2).
func SampleFewshot(ctx context.Context, db *sql.DB, tbName string, quoteTable func(string) string, sampleLimit, quota, maxLen int) (map[string][]string, error) {
	q := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteTable(tbName), sampleLimit)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "sample_fewshot", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "sample_fewshot_columns", err)
	}

	seen := make(map[string]map[string]bool, len(cols))
	result := make(map[string][]string, len(cols))
	for _, c := range cols {
		seen[c] = make(map[string]bool)
	}

	scanBuf := make([]sql.RawBytes, len(cols))
	scanArgs := make([]interface{}, len(cols))
	for i := range scanBuf {
		scanArgs[i] = &scanBuf[i]
	}

	allFull := func() bool {
		for _, c := range cols {
			if len(result[c]) < quota {
				return false
			}
		}
		return true
	}

	for rows.Next() {
		if allFull() {
			break
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "sample_fewshot_scan", err)
		}
		for i, c := range cols {
			if len(result[c]) >= quota {
				continue
			}
			if scanBuf[i] == nil {
				continue
			}
			v := strings.TrimSpace(string(scanBuf[i]))
			if v == "" || isNumericString(v) {
				continue
			}
			if r := []rune(v); len(r) > maxLen {
				v = string(r[:maxLen])
			}
			if seen[c][v] {
				continue
			}
			seen[c][v] = true
			result[c] = append(result[c], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "sample_fewshot_rows", err)
	}

	return result, nil
}

// QuoteIdent quotes a bare identifier for the given db_type's dialect.
func QuoteIdent(dbType, ident string) string {
	if dbType == "mysql" {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}
