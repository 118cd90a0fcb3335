// Package graphstore is the typed wrapper over the property-graph
// backing store: node/edge upserts, idempotent DDL (EnsureSchema, which
// stands in for ensure_constraint, ensure_vector_index and
// ensure_fulltext_index), and the scoped-session
// abstraction the ingestor and retrieval engine build on. The labeled
// property graph is modeled over a relational backing store plus
// pluggable vector/full-text indexes, generalizing a
// VectorConfig/FAISSAdapter/PGVectorAdapter split into a single
// dialect-aware store.
package graphstore

import "fmt"

// Database is the root scoping node: one registered source database.
type Database struct {
	DBCode   string `json:"db_code"`
	DBName   string `json:"db_name"`
	DBType   string `json:"db_type"` // mysql or postgresql
	Database string `json:"database"`
}

// Table belongs to a Database.
type Table struct {
	TbCode    string `json:"tb_code"`
	DBCode    string `json:"db_code"`
	TbName    string `json:"tb_name"`
	TbMeaning string `json:"tb_meaning"`
}

// Column belongs to a Table; (TbCode, ColName) is its composite key.
type Column struct {
	TbCode       string                 `json:"tb_code"`
	ColName      string                 `json:"col_name"`
	ColType      string                 `json:"col_type"`
	ColComment   string                 `json:"col_comment,omitempty"`
	ColMeaning   string                 `json:"col_meaning,omitempty"`
	FieldMeaning map[string]interface{} `json:"field_meaning,omitempty"` // nested semantic map, serialized at the storage boundary
	ColAlias     []string               `json:"col_alias,omitempty"`
	Fewshot      []string               `json:"fewshot,omitempty"` // up to 5 sample cell strings, each <= 300 chars
	RelCol       string                 `json:"rel_col,omitempty"` // optional "tbl.col" FK hint
}

// Key returns the composite key used for edge endpoints and dedup.
func (c Column) Key() string { return ColumnKey(c.TbCode, c.ColName) }

// ColumnKey builds the composite key for a (tb_code, col_name) pair.
func ColumnKey(tbCode, colName string) string { return fmt.Sprintf("%s.%s", tbCode, colName) }

// Knowledge belongs to a Database; (DBCode, KnCode) is its composite key.
type Knowledge struct {
	DBCode  string   `json:"db_code"`
	KnCode  string   `json:"kn_code"`
	KnName  string   `json:"kn_name"`
	KnDesc  string   `json:"kn_desc,omitempty"`
	KnDef   string   `json:"kn_def,omitempty"`
	KnAlias []string `json:"kn_alias,omitempty"`
	RelKn   []string `json:"rel_kn,omitempty"`
	RelCol  []string `json:"rel_col,omitempty"`
}

// Key returns the composite key used for edge endpoints and dedup.
func (k Knowledge) Key() string { return KnowledgeKey(k.DBCode, k.KnCode) }

// KnowledgeKey builds the composite key for a (db_code, kn_code) pair.
func KnowledgeKey(dbCode, knCode string) string { return fmt.Sprintf("%s.%s", dbCode, knCode) }

// EmbedCol is one content-addressed textual atom derived from a column.
type EmbedCol struct {
	Content string
	Embed   []float32 // 1024-dim unit cosine vector
}

// EmbedKn is one content-addressed textual atom derived from knowledge.
type EmbedKn struct {
	Content   string
	Embed     []float32
	TSContent []string // tokenized keywords for full-text indexing
}

// Cell is one distinct non-numeric, non-empty cell value observed in
// the sync-set of columns of a table.
type Cell struct {
	Content   string
	Embed     []float32
	TSContent []string
}

// Relation names the directed edge kinds in the property graph.
type Relation string

const (
	RelBelong  Relation = "BELONG"
	RelRel     Relation = "REL"
	RelContain Relation = "CONTAIN"
)

// Label names a node kind, used as the first component of an edge
// endpoint and as the table-selector for DDL helpers.
type Label string

const (
	LabelDatabase  Label = "Database"
	LabelTable     Label = "Table"
	LabelColumn    Label = "Column"
	LabelKnowledge Label = "Knowledge"
	LabelEmbedCol  Label = "EmbedCol"
	LabelEmbedKn   Label = "EmbedKn"
	LabelCell      Label = "Cell"
)

// Edge is a directed relation between two labeled nodes.
type Edge struct {
	SrcLabel Label
	SrcKey   string
	Rel      Relation
	DstLabel Label
	DstKey   string
}
