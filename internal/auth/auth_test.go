package auth

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaground/retrieval-engine/internal/observability"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, DialectSQLite)
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.LoadScopes(context.Background()))
	return store
}

func TestTokenIssuer_IssueAndParseAccess(t *testing.T) {
	ti := NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	now := time.Now()

	token, err := ti.IssueAccess("alice", []string{string(ScopeGetTable)}, now)
	require.NoError(t, err)

	claims, err := ti.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, []string{string(ScopeGetTable)}, claims.Scopes)
	assert.Empty(t, claims.ID, "access tokens carry no jti")
}

func TestTokenIssuer_IssueRefreshCarriesJTI(t *testing.T) {
	ti := NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	now := time.Now()

	token, expiresAt, err := ti.IssueRefresh("alice", nil, "jti-1", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(24*time.Hour), expiresAt, time.Second)

	claims, err := ti.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "jti-1", claims.ID)
}

func TestTokenIssuer_RejectsExpiredToken(t *testing.T) {
	ti := NewTokenIssuer("test-secret", -time.Minute, time.Hour)
	token, err := ti.IssueAccess("alice", nil, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = ti.Parse(token)
	require.Error(t, err)
}

func TestService_Login_Succeeds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO auth_user (username, password_hash, active, group_name) VALUES (?, ?, ?, ?)`,
		"alice", hash, true, "analysts")
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO auth_group_scope_rel (group_name, scope_name) VALUES (?, ?)`,
		"analysts", string(ScopeGetTable))
	require.NoError(t, err)

	svc := NewService(store, NewTokenIssuer("secret", time.Hour, 24*time.Hour), observability.DefaultLogger())
	pair, err := svc.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)
}

func TestService_Login_WrongPasswordFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO auth_user (username, password_hash, active, group_name) VALUES (?, ?, ?, ?)`,
		"alice", hash, true, "analysts")
	require.NoError(t, err)

	svc := NewService(store, NewTokenIssuer("secret", time.Hour, 24*time.Hour), observability.DefaultLogger())
	_, err = svc.Login(ctx, "alice", "wrong-password")
	require.Error(t, err)
}

func TestService_Login_UnknownUserFails(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, NewTokenIssuer("secret", time.Hour, 24*time.Hour), observability.DefaultLogger())
	_, err := svc.Login(context.Background(), "ghost", "whatever")
	require.Error(t, err)
}

func TestService_RefreshRotatesToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO auth_user (username, password_hash, active, group_name) VALUES (?, ?, ?, ?)`,
		"bob", hash, true, "ops")
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO auth_group_scope_rel (group_name, scope_name) VALUES (?, ?)`,
		"ops", string(ScopeRetrieveColumn))
	require.NoError(t, err)

	svc := NewService(store, NewTokenIssuer("secret", time.Hour, 24*time.Hour), observability.DefaultLogger())
	first, err := svc.Login(ctx, "bob", "pw")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = svc.Refresh(ctx, first.RefreshToken, nil)
	require.Error(t, err, "a rotated-away refresh token must not be reusable")
}

func TestService_Refresh_RejectsScopeSuperset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO auth_user (username, password_hash, active, group_name) VALUES (?, ?, ?, ?)`,
		"carol", hash, true, "viewers")
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO auth_group_scope_rel (group_name, scope_name) VALUES (?, ?)`,
		"viewers", string(ScopeGetTable))
	require.NoError(t, err)

	svc := NewService(store, NewTokenIssuer("secret", time.Hour, 24*time.Hour), observability.DefaultLogger())
	pair, err := svc.Login(ctx, "carol", "pw")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.RefreshToken, []string{string(ScopeSaveMetadata)})
	require.Error(t, err)
}

func TestService_LogoutRevokesToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO auth_user (username, password_hash, active, group_name) VALUES (?, ?, ?, ?)`,
		"dave", hash, true, "ops")
	require.NoError(t, err)

	svc := NewService(store, NewTokenIssuer("secret", time.Hour, 24*time.Hour), observability.DefaultLogger())
	pair, err := svc.Login(ctx, "dave", "pw")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))
	_, err = svc.Refresh(ctx, pair.RefreshToken, nil)
	require.Error(t, err)
}

func TestRequireScopes_MissingTokenReturns401(t *testing.T) {
	ti := NewTokenIssuer("secret", time.Hour, 24*time.Hour)
	handler := RequireScopes(ti, string(ScopeGetTable))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metadata/get_table", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireScopes_InsufficientScopeReturns403(t *testing.T) {
	ti := NewTokenIssuer("secret", time.Hour, 24*time.Hour)
	token, err := ti.IssueAccess("eve", []string{string(ScopeGetTable)}, time.Now())
	require.NoError(t, err)

	handler := RequireScopes(ti, string(ScopeSaveMetadata))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/metadata/save_metadata", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireScopes_ValidTokenPassesThroughUsername(t *testing.T) {
	ti := NewTokenIssuer("secret", time.Hour, 24*time.Hour)
	token, err := ti.IssueAccess("frank", []string{string(ScopeGetColumn)}, time.Now())
	require.NoError(t, err)

	var gotUsername string
	handler := RequireScopes(ti, string(ScopeGetColumn))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUsername, _ = UsernameFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metadata/get_column", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "frank", gotUsername)
}
