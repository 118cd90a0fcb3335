package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/metaground/retrieval-engine/internal/auth"
	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/observability"
)

// AuthHandler serves the OAuth2-password login/refresh/logout flow.
type AuthHandler struct {
	logger  *observability.Logger
	service *auth.Service
}

func NewAuthHandler(logger *observability.Logger, service *auth.Service) *AuthHandler {
	return &AuthHandler{logger: logger, service: service}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeLoginForm(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, req.Scopes)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrScopeShortage):
		writeError(w, http.StatusForbidden, err.Error())
	case errs.Is(err, errs.KindAuth):
		writeError(w, http.StatusUnauthorized, "incorrect username or password")
	default:
		h.logger.Error().Err(err).Msg("auth request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeLoginForm accepts either a JSON body or an
// application/x-www-form-urlencoded body, matching the OAuth2-password
// grant's conventional form-encoded login (spec §6 "`/auth/login` ...
// form {username, password}").
func decodeLoginForm(r *http.Request, out *loginRequest) error {
	contentType := r.Header.Get("Content-Type")
	if contentType == "application/json" {
		return json.NewDecoder(r.Body).Decode(out)
	}
	if err := r.ParseForm(); err != nil {
		return err
	}
	out.Username = r.PostFormValue("username")
	out.Password = r.PostFormValue("password")
	return nil
}
