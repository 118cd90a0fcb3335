package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/metaground/retrieval-engine/internal/observability"
	"github.com/metaground/retrieval-engine/internal/retrieval"
)

// RetrievalHandler serves the three hybrid-search endpoints: knowledge,
// column, and cell retrieval (spec §4.3).
type RetrievalHandler struct {
	logger *observability.Logger
	engine *retrieval.Engine
}

func NewRetrievalHandler(logger *observability.Logger, engine *retrieval.Engine) *RetrievalHandler {
	return &RetrievalHandler{logger: logger, engine: engine}
}

type retrieveKnowledgeRequest struct {
	DBCode   string   `json:"db_code"`
	Query    string   `json:"query"`
	Keywords []string `json:"keywords"`
}

// RetrieveKnowledge handles POST /metadata/retrieve_knowledge.
func (h *RetrievalHandler) RetrieveKnowledge(w http.ResponseWriter, r *http.Request) {
	var req retrieveKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.RetrieveKnowledge(r.Context(), req.DBCode, req.Query, req.Keywords)
	if err != nil {
		h.logger.Error().Err(err).Msg("retrieve_knowledge failed")
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type retrieveColumnRequest struct {
	DBCode   string   `json:"db_code"`
	Keywords []string `json:"keywords"`
}

// RetrieveColumn handles POST /metadata/retrieve_column.
func (h *RetrievalHandler) RetrieveColumn(w http.ResponseWriter, r *http.Request) {
	var req retrieveColumnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.RetrieveColumn(r.Context(), req.DBCode, req.Keywords)
	if err != nil {
		h.logger.Error().Err(err).Msg("retrieve_column failed")
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RetrieveCell handles POST /metadata/retrieve_cell.
func (h *RetrievalHandler) RetrieveCell(w http.ResponseWriter, r *http.Request) {
	var req retrieveColumnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.RetrieveCell(r.Context(), req.DBCode, req.Keywords)
	if err != nil {
		h.logger.Error().Err(err).Msg("retrieve_cell failed")
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
