// Package pipeline implements the resumable, stage-wise query-context
// pipeline: a sequence of pure stages, each reading State, mutating
// it, and writing it back to a pluggable Store.
package pipeline

import (
	"encoding/json"

	"github.com/metaground/retrieval-engine/internal/graphstore"
)

// TableInfo is the tb_map entry the pipeline carries from add_context
// through filter_tb_col.
type TableInfo struct {
	TbName    string `json:"tb_name"`
	TbMeaning string `json:"tb_meaning"`
}

// ColumnView is a Column annotated with its retrieved cell contents and
// score, the shape col_map holds from recall_column/recall_cell onward.
type ColumnView struct {
	graphstore.Column
	Cells []string `json:"cells,omitempty"`
	Score float64  `json:"score"`
}

// State is the flat, JSON-serializable mapping the pipeline threads
// through its stages. Well-known keys get typed fields; any key a
// stage or an external caller writes that isn't one of them is
// preserved verbatim in Extra, so round-tripping State through a Store
// never silently drops data: a flat mapping from well-known string
// keys to JSON-serializable values.
type State struct {
	DBCode      string                `json:"db_code,omitempty"`
	Query       string                `json:"query,omitempty"`
	Keywords    []string              `json:"keywords,omitempty"`
	CurDateInfo string                `json:"cur_date_info,omitempty"`
	TbMap       map[string]TableInfo  `json:"tb_map,omitempty"`
	TbCaption   string                `json:"tb_caption,omitempty"`

	RetrievedKnowledge map[string]graphstore.Knowledge `json:"retrieved_knowledge,omitempty"`
	KnMap              map[string]graphstore.Knowledge `json:"kn_map,omitempty"`

	ExtractedColumns []string `json:"extracted_columns,omitempty"`
	ExtractedCells   []string `json:"extracted_cells,omitempty"`

	RetrievedColMap  map[string]map[string]ColumnView `json:"retrieved_col_map,omitempty"`
	RetrievedCellMap map[string]map[string]ColumnView `json:"retrieved_cell_map,omitempty"`
	ColMap           map[string]map[string]ColumnView `json:"col_map,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// wellKnownKeys lists every tag above so MarshalJSON/UnmarshalJSON can
// tell a known field apart from an Extra one.
var wellKnownKeys = map[string]bool{
	"db_code": true, "query": true, "keywords": true, "cur_date_info": true,
	"tb_map": true, "tb_caption": true, "retrieved_knowledge": true, "kn_map": true,
	"extracted_columns": true, "extracted_cells": true, "retrieved_col_map": true,
	"retrieved_cell_map": true, "col_map": true,
}

// stateAlias has the same fields as State modulo the Extra bag, so
// (un)marshaling through it reuses the struct tags above without
// infinite recursion into State's own custom MarshalJSON.
type stateAlias State

// MarshalJSON flattens the well-known fields and Extra into one JSON object.
func (s State) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(stateAlias(s))
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage)
	}
	for k, v := range s.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON routes well-known keys into their typed fields and
// everything else into Extra.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	known := make(map[string]json.RawMessage, len(raw))
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if wellKnownKeys[k] {
			known[k] = v
		} else {
			extra[k] = v
		}
	}

	knownBytes, err := json.Marshal(known)
	if err != nil {
		return err
	}
	var alias stateAlias
	if err := json.Unmarshal(knownBytes, &alias); err != nil {
		return err
	}
	*s = State(alias)
	if len(extra) > 0 {
		s.Extra = extra
	}
	return nil
}

// Merge applies a partial State (as written by a stage) onto s,
// overwriting only the fields patch actually sets. Patch fields use the
// Go zero value to mean "not written by this stage". For slice and map
// fields only nil counts as unwritten, so a stage clears Keywords,
// ExtractedColumns or ExtractedCells by returning an empty, non-nil
// slice.
func (s *State) Merge(patch State) {
	if patch.DBCode != "" {
		s.DBCode = patch.DBCode
	}
	if patch.Query != "" {
		s.Query = patch.Query
	}
	if patch.Keywords != nil {
		s.Keywords = patch.Keywords
	}
	if patch.CurDateInfo != "" {
		s.CurDateInfo = patch.CurDateInfo
	}
	if patch.TbMap != nil {
		s.TbMap = patch.TbMap
	}
	if patch.TbCaption != "" {
		s.TbCaption = patch.TbCaption
	}
	if patch.RetrievedKnowledge != nil {
		s.RetrievedKnowledge = patch.RetrievedKnowledge
	}
	if patch.KnMap != nil {
		s.KnMap = patch.KnMap
	}
	if patch.ExtractedColumns != nil {
		s.ExtractedColumns = patch.ExtractedColumns
	}
	if patch.ExtractedCells != nil {
		s.ExtractedCells = patch.ExtractedCells
	}
	if patch.RetrievedColMap != nil {
		s.RetrievedColMap = patch.RetrievedColMap
	}
	if patch.RetrievedCellMap != nil {
		s.RetrievedCellMap = patch.RetrievedCellMap
	}
	if patch.ColMap != nil {
		s.ColMap = patch.ColMap
	}
	for k, v := range patch.Extra {
		if s.Extra == nil {
			s.Extra = make(map[string]json.RawMessage)
		}
		s.Extra[k] = v
	}
}
