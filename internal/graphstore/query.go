package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/metaground/retrieval-engine/internal/errs"
)

// GetDatabase looks up a registered Database by db_code.
func (st *Store) GetDatabase(ctx context.Context, dbCode string) (Database, bool, error) {
	var d Database
	q := fmt.Sprintf("SELECT db_code, db_name, db_type, database FROM graph_database WHERE db_code = %s", st.ph(1))
	err := st.db.QueryRowContext(ctx, q, dbCode).Scan(&d.DBCode, &d.DBName, &d.DBType, &d.Database)
	if err == sql.ErrNoRows {
		return Database{}, false, nil
	}
	if err != nil {
		return Database{}, false, errs.New(errs.KindUpstreamIO, "get_database", err)
	}
	return d, true, nil
}

// ListTables returns every Table belonging to dbCode, keyed by tb_code.
func (st *Store) ListTables(ctx context.Context, dbCode string) (map[string]Table, error) {
	q := fmt.Sprintf("SELECT tb_code, db_code, tb_name, tb_meaning FROM graph_table WHERE db_code = %s", st.ph(1))
	rows, err := st.db.QueryContext(ctx, q, dbCode)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "list_tables", err)
	}
	defer rows.Close()

	out := make(map[string]Table)
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.TbCode, &t.DBCode, &t.TbName, &t.TbMeaning); err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "list_tables_scan", err)
		}
		out[t.TbCode] = t
	}
	return out, rows.Err()
}

// GetTable fetches a single Table by tb_code.
func (st *Store) GetTable(ctx context.Context, tbCode string) (Table, bool, error) {
	var t Table
	q := fmt.Sprintf("SELECT tb_code, db_code, tb_name, tb_meaning FROM graph_table WHERE tb_code = %s", st.ph(1))
	err := st.db.QueryRowContext(ctx, q, tbCode).Scan(&t.TbCode, &t.DBCode, &t.TbName, &t.TbMeaning)
	if err == sql.ErrNoRows {
		return Table{}, false, nil
	}
	if err != nil {
		return Table{}, false, errs.New(errs.KindUpstreamIO, "get_table", err)
	}
	return t, true, nil
}

const columnSelectCols = "tb_code, col_name, col_type, col_comment, col_meaning, field_meaning, col_alias, fewshot, rel_col"

func scanColumn(row interface{ Scan(...interface{}) error }) (Column, error) {
	var c Column
	var fieldMeaning, alias, fewshot sql.NullString
	if err := row.Scan(&c.TbCode, &c.ColName, &c.ColType, &c.ColComment, &c.ColMeaning, &fieldMeaning, &alias, &fewshot, &c.RelCol); err != nil {
		return Column{}, err
	}
	if fieldMeaning.Valid && fieldMeaning.String != "" && fieldMeaning.String != "null" {
		_ = json.Unmarshal([]byte(fieldMeaning.String), &c.FieldMeaning)
	}
	if alias.Valid && alias.String != "" && alias.String != "null" {
		_ = json.Unmarshal([]byte(alias.String), &c.ColAlias)
	}
	if fewshot.Valid && fewshot.String != "" && fewshot.String != "null" {
		_ = json.Unmarshal([]byte(fewshot.String), &c.Fewshot)
	}
	return c, nil
}

// GetColumn fetches a single Column by (tb_code, col_name).
func (st *Store) GetColumn(ctx context.Context, tbCode, colName string) (Column, bool, error) {
	q := fmt.Sprintf("SELECT %s FROM graph_column WHERE tb_code = %s AND col_name = %s", columnSelectCols, st.ph(1), st.ph(2))
	row := st.db.QueryRowContext(ctx, q, tbCode, colName)
	c, err := scanColumn(row)
	if err == sql.ErrNoRows {
		return Column{}, false, nil
	}
	if err != nil {
		return Column{}, false, errs.New(errs.KindUpstreamIO, "get_column", err)
	}
	return c, true, nil
}

// ListColumnsByTable returns every Column belonging to tbCode, keyed by col_name.
func (st *Store) ListColumnsByTable(ctx context.Context, tbCode string) (map[string]Column, error) {
	q := fmt.Sprintf("SELECT %s FROM graph_column WHERE tb_code = %s", columnSelectCols, st.ph(1))
	rows, err := st.db.QueryContext(ctx, q, tbCode)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "list_columns_by_table", err)
	}
	defer rows.Close()

	out := make(map[string]Column)
	for rows.Next() {
		c, err := scanColumn(rows)
		if err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "list_columns_by_table_scan", err)
		}
		out[c.ColName] = c
	}
	return out, rows.Err()
}

// GetColumnByName resolves a column by (tb_name, col_name) scoped to a
// database, used by Knowledge->Column REL resolution and by
// /metadata/get_column's tb_col_tuple_list lookup.
func (st *Store) GetColumnByName(ctx context.Context, dbCode, tbName, colName string) (Column, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM graph_column c
		JOIN graph_table t ON t.tb_code = c.tb_code
		WHERE t.db_code = %s AND t.tb_name = %s AND c.col_name = %s`,
		prefixCols("c", columnSelectCols), st.ph(1), st.ph(2), st.ph(3))
	row := st.db.QueryRowContext(ctx, q, dbCode, tbName, colName)
	c, err := scanColumn(row)
	if err == sql.ErrNoRows {
		return Column{}, false, nil
	}
	if err != nil {
		return Column{}, false, errs.New(errs.KindUpstreamIO, "get_column_by_name", err)
	}
	return c, true, nil
}

func prefixCols(alias, cols string) string {
	// columnSelectCols is a fixed, code-controlled literal (not user
	// input), so building a prefixed projection this way never admits
	// injected query text.
	out := ""
	start := 0
	for i := 0; i <= len(cols); i++ {
		if i == len(cols) || cols[i] == ',' {
			col := cols[start:i]
			for len(col) > 0 && col[0] == ' ' {
				col = col[1:]
			}
			if out != "" {
				out += ", "
			}
			out += alias + "." + col
			start = i + 1
		}
	}
	return out
}

// GetKnowledge fetches a single Knowledge node by (db_code, kn_code).
func (st *Store) GetKnowledge(ctx context.Context, dbCode, knCode string) (Knowledge, bool, error) {
	q := fmt.Sprintf(`SELECT db_code, kn_code, kn_name, kn_desc, kn_def, kn_alias, rel_kn, rel_col
		FROM graph_knowledge WHERE db_code = %s AND kn_code = %s`, st.ph(1), st.ph(2))
	row := st.db.QueryRowContext(ctx, q, dbCode, knCode)
	k, err := scanKnowledge(row)
	if err == sql.ErrNoRows {
		return Knowledge{}, false, nil
	}
	if err != nil {
		return Knowledge{}, false, errs.New(errs.KindUpstreamIO, "get_knowledge", err)
	}
	return k, true, nil
}

func scanKnowledge(row interface{ Scan(...interface{}) error }) (Knowledge, error) {
	var k Knowledge
	var alias, relKn, relCol sql.NullString
	if err := row.Scan(&k.DBCode, &k.KnCode, &k.KnName, &k.KnDesc, &k.KnDef, &alias, &relKn, &relCol); err != nil {
		return Knowledge{}, err
	}
	if alias.Valid && alias.String != "" && alias.String != "null" {
		_ = json.Unmarshal([]byte(alias.String), &k.KnAlias)
	}
	if relKn.Valid && relKn.String != "" && relKn.String != "null" {
		_ = json.Unmarshal([]byte(relKn.String), &k.RelKn)
	}
	if relCol.Valid && relCol.String != "" && relCol.String != "null" {
		_ = json.Unmarshal([]byte(relCol.String), &k.RelCol)
	}
	return k, nil
}

// KnowledgeContainChildren returns the kn_code list of direct CONTAIN
// children of the given Knowledge key, scoped to dbCode.
func (st *Store) KnowledgeContainChildren(ctx context.Context, dbCode, parentKey string) ([]string, error) {
	q := fmt.Sprintf(`SELECT dst_key FROM graph_edge
		WHERE src_label = 'Knowledge' AND src_key = %s AND rel = 'CONTAIN' AND dst_label = 'Knowledge'`, st.ph(1))
	rows, err := st.db.QueryContext(ctx, q, parentKey)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "knowledge_contain_children", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "knowledge_contain_children_scan", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// OwningColumns climbs BELONG edges from a content-addressed EmbedCol
// or Cell key to its owning Column(s), filtered to tables in dbCode.
func (st *Store) OwningColumns(ctx context.Context, label Label, content, dbCode string) ([]Column, error) {
	q := fmt.Sprintf(`SELECT %s FROM graph_column c
		JOIN graph_table t ON t.tb_code = c.tb_code
		JOIN graph_edge e ON e.dst_label = 'Column' AND e.dst_key = (c.tb_code || '.' || c.col_name)
		WHERE e.src_label = %s AND e.src_key = %s AND e.rel = 'BELONG' AND t.db_code = %s`,
		prefixCols("c", columnSelectCols), st.ph(1), st.ph(2), st.ph(3))
	rows, err := st.db.QueryContext(ctx, q, string(label), content, dbCode)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "owning_columns", err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		c, err := scanColumn(rows)
		if err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "owning_columns_scan", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// OwningKnowledge climbs BELONG edges from an EmbedKn content key to
// its owning Knowledge, filtered to dbCode.
func (st *Store) OwningKnowledge(ctx context.Context, content, dbCode string) ([]Knowledge, error) {
	q := fmt.Sprintf(`SELECT k.db_code, k.kn_code, k.kn_name, k.kn_desc, k.kn_def, k.kn_alias, k.rel_kn, k.rel_col
		FROM graph_knowledge k
		JOIN graph_edge e ON e.dst_label = 'Knowledge' AND e.dst_key = (k.db_code || '.' || k.kn_code)
		WHERE e.src_label = 'EmbedKn' AND e.src_key = %s AND e.rel = 'BELONG' AND k.db_code = %s`, st.ph(1), st.ph(2))
	rows, err := st.db.QueryContext(ctx, q, content, dbCode)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "owning_knowledge", err)
	}
	defer rows.Close()

	var out []Knowledge
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "owning_knowledge_scan", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// CellsForColumn returns the distinct Cell contents linked to a
// Column, restricted to the given candidate set: the cells the
// retrieval engine actually matched.
func (st *Store) CellsForColumn(ctx context.Context, tbCode, colName string, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(candidates))
	args := make([]interface{}, 0, len(candidates)+2)
	args = append(args, tbCode, colName)
	for i, c := range candidates {
		placeholders[i] = st.ph(i + 3)
		args = append(args, c)
	}
	q := fmt.Sprintf(`SELECT e.src_key FROM graph_edge e
		WHERE e.src_label = 'Cell' AND e.dst_label = 'Column' AND e.rel = 'BELONG'
		AND e.dst_key = (%s || '.' || %s) AND e.src_key IN (%s)`,
		st.ph(1), st.ph(2), join(placeholders))
	rows, err := st.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "cells_for_column", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "cells_for_column_scan", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// Vector exposes the underlying vector index for retrieval queries.
func (st *Store) Vector() VectorIndex { return st.vector }

// Fulltext exposes the underlying full-text index for retrieval queries.
func (st *Store) Fulltext() FulltextIndex { return st.fulltext }
