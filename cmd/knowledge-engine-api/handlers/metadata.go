package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/ingest"
	"github.com/metaground/retrieval-engine/internal/observability"
)

// MetadataHandler serves the graph-store lifecycle and lookup
// endpoints (save_metadata, clear_metadata, get_table, get_column).
type MetadataHandler struct {
	logger   *observability.Logger
	store    *graphstore.Store
	pipeline *ingest.Pipeline
	sources  map[string]config.SourceDBConfig
}

func NewMetadataHandler(logger *observability.Logger, store *graphstore.Store, pipeline *ingest.Pipeline, databases []config.SourceDBConfig) *MetadataHandler {
	sources := make(map[string]config.SourceDBConfig, len(databases))
	for _, db := range databases {
		sources[db.DBCode] = db
	}
	return &MetadataHandler{logger: logger, store: store, pipeline: pipeline, sources: sources}
}

// dbSaveSelector narrows an ingestion request to specific tables,
// knowledge entries, or cells within one database. The underlying
// ingest.Pipeline only exposes whole-database ingestion, so a
// selector present on a request still triggers a full re-ingest of
// that db_code; this is documented, not silently ignored.
type dbSaveSelector struct {
	Table     []string `json:"table,omitempty"`
	Knowledge []string `json:"knowledge,omitempty"`
	Cell      []string `json:"cell,omitempty"`
}

type saveMetadataRequest struct {
	Save *map[string]dbSaveSelector `json:"save"`
}

// SaveMetadata handles POST /metadata/save_metadata. A null `save`
// ingests every configured database; a non-null `save` ingests only
// the named db_codes (spec §6 "null = all").
func (h *MetadataHandler) SaveMetadata(w http.ResponseWriter, r *http.Request) {
	var req saveMetadataRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	dbCodes := make([]string, 0, len(h.sources))
	if req.Save == nil {
		for code := range h.sources {
			dbCodes = append(dbCodes, code)
		}
	} else {
		for code, selector := range *req.Save {
			if len(selector.Table) > 0 || len(selector.Knowledge) > 0 || len(selector.Cell) > 0 {
				h.logger.Warn().Str("db_code", code).Msg("save_metadata selector is not granular; ingesting the whole database")
			}
			dbCodes = append(dbCodes, code)
		}
	}

	ctx := r.Context()
	for _, code := range dbCodes {
		dbCfg, ok := h.sources[code]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown db_code: "+code)
			return
		}
		if err := h.pipeline.IngestDatabase(ctx, dbCfg); err != nil {
			h.logger.Error().Err(err).Str("db_code", code).Msg("ingest failed")
			writeError(w, http.StatusInternalServerError, "ingest failed for "+code)
			return
		}
	}

	writeJSON(w, http.StatusOK, nil)
}

// ClearMetadata handles POST /metadata/clear_metadata: an all-or-nothing
// wipe of every node, edge, and index (spec §4.2 "clear_meta").
func (h *MetadataHandler) ClearMetadata(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearAll(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("clear_metadata failed")
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type getTableRequest struct {
	DBCode string `json:"db_code"`
}

// GetTable handles POST /metadata/get_table, returning a 2-element
// tuple: the database descriptor, then the tb_code -> table-info map.
func (h *MetadataHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	var req getTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	db, found, err := h.store.GetDatabase(ctx, req.DBCode)
	if err != nil {
		h.logger.Error().Err(err).Msg("get_table failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown db_code: "+req.DBCode)
		return
	}

	tables, err := h.store.ListTables(ctx, req.DBCode)
	if err != nil {
		h.logger.Error().Err(err).Msg("get_table failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	tbMap := make(map[string]tableInfo, len(tables))
	for code, tb := range tables {
		tbMap[code] = tableInfo{TbName: tb.TbName, TbMeaning: tb.TbMeaning}
	}

	writeJSON(w, http.StatusOK, []interface{}{
		map[string]string{"db_code": db.DBCode, "db_name": db.DBName},
		tbMap,
	})
}

type tableInfo struct {
	TbName    string `json:"tb_name"`
	TbMeaning string `json:"tb_meaning"`
}

type getColumnRequest struct {
	DBCode        string     `json:"db_code"`
	TbColTupleList [][]string `json:"tb_col_tuple_list"`
}

// GetColumn handles POST /metadata/get_column, resolving each
// (tb_name, col_name) tuple by name within db_code.
func (h *MetadataHandler) GetColumn(w http.ResponseWriter, r *http.Request) {
	var req getColumnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	out := make(map[string]map[string]graphstore.Column)
	for _, tuple := range req.TbColTupleList {
		if len(tuple) != 2 {
			writeError(w, http.StatusBadRequest, "tb_col_tuple_list entries must be [tb_name, col_name]")
			return
		}
		tbName, colName := tuple[0], tuple[1]
		col, found, err := h.store.GetColumnByName(ctx, req.DBCode, tbName, colName)
		if err != nil {
			h.logger.Error().Err(err).Msg("get_column failed")
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if !found {
			continue
		}
		if _, ok := out[col.TbCode]; !ok {
			out[col.TbCode] = make(map[string]graphstore.Column)
		}
		out[col.TbCode][col.ColName] = col
	}

	writeJSON(w, http.StatusOK, out)
}
