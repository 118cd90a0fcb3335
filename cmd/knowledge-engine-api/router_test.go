package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/metaground/retrieval-engine/internal/auth"
	"github.com/metaground/retrieval-engine/internal/config"
	"github.com/metaground/retrieval-engine/internal/graphstore"
	"github.com/metaground/retrieval-engine/internal/observability"
)

// newTestRouter builds a router backed by a temp-file sqlite database
// (not ":memory:", so the auth service's own connection to the same
// path sees the schema this helper creates) and seeds one user with
// a narrow scope set, mirroring spec §8 scenario 4's login ->
// scoped-request flow.
func newTestRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "api_e2e.db")

	cfg := config.DefaultConfig()
	cfg.Graph.Backend = "sqlite"
	cfg.Graph.SQLite = config.SQLiteConfig{Path: dbPath}
	cfg.Embedding.APIKey = ""
	cfg.Auth.SecretKey = "test-secret"
	cfg.Auth.AccessTokenTTL = time.Hour
	cfg.Auth.RefreshTokenTTL = 24 * time.Hour
	cfg.Auth.AuthDB = config.PostgresConfig{}

	logger := observability.DefaultLogger()

	graphStore, err := graphstore.NewSQLiteStore(cfg.Graph.SQLite, logger)
	require.NoError(t, err)
	require.NoError(t, graphStore.EnsureSchema(context.Background()))
	require.NoError(t, graphStore.Close())

	authDB, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { authDB.Close() })

	authStore := auth.NewStore(authDB, auth.DialectSQLite)
	require.NoError(t, authStore.EnsureSchema(context.Background()))
	require.NoError(t, authStore.LoadScopes(context.Background()))

	hash, err := auth.HashPassword("correct-horse")
	require.NoError(t, err)
	_, err = authDB.Exec(`INSERT INTO auth_user (username, password_hash, active, group_name) VALUES (?, ?, ?, ?)`,
		"analyst", hash, true, "analysts")
	require.NoError(t, err)
	_, err = authDB.Exec(`INSERT INTO auth_group_scope_rel (group_name, scope_name) VALUES (?, ?)`,
		"analysts", string(auth.ScopeRetrieveKnowledge))
	require.NoError(t, err)

	router, err := NewRouter(logger, &AppConfig{RequestTimeout: 10 * time.Second}, cfg)
	require.NoError(t, err)

	return router, dbPath
}

func TestAPI_LoginThenScopedRetrieveKnowledge(t *testing.T) {
	router, _ := newTestRouter(t)

	form := url.Values{"username": {"analyst"}, "password": {"correct-horse"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	require.NotEmpty(t, pair.AccessToken)

	body := strings.NewReader(`{"db_code":"shop_db","query":"refunds","keywords":["refund"]}`)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/metadata/retrieve_knowledge", body)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAPI_MissingTokenReturns401(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/metadata/retrieve_knowledge", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_InsufficientScopeReturns403(t *testing.T) {
	router, _ := newTestRouter(t)

	form := url.Values{"username": {"analyst"}, "password": {"correct-horse"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var pair struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))

	// "analyst" only holds retrieve_knowledge; save_metadata must 403.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/metadata/save_metadata", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
