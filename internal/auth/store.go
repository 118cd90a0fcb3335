package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/metaground/retrieval-engine/internal/errs"
)

// Dialect distinguishes the two relational backends the auth schema
// can be stored on, mirroring internal/graphstore's dialect split.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store is the relational backing store for users, scopes, and
// refresh tokens.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// NewStore wraps an already-open *sql.DB (shared with the graph
// store's connection when both point at the same database, or a
// dedicated auth database otherwise).
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (st *Store) ph(n int) string {
	if st.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// EnsureSchema creates the auth tables if they do not already exist:
// user (carrying its group name), scope, group_scope_rel, refresh_token. DDL is
// idempotent (CREATE TABLE IF NOT EXISTS), matching the graph store
// adapter's EnsureSchema style; no versioned migration tool is used.
func (st *Store) EnsureSchema(ctx context.Context) error {
	autoIncrement := "INTEGER PRIMARY KEY AUTOINCREMENT"
	timestampType := "TIMESTAMP"
	if st.dialect == DialectPostgres {
		autoIncrement = "SERIAL PRIMARY KEY"
		timestampType = "TIMESTAMPTZ"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS auth_user (
			username      TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			group_name    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS auth_scope (
			scope_name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS auth_group_scope_rel (
			group_name TEXT NOT NULL,
			scope_name TEXT NOT NULL,
			PRIMARY KEY (group_name, scope_name)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS auth_refresh_token (
			id          %s,
			jti         TEXT NOT NULL UNIQUE,
			username    TEXT NOT NULL,
			scopes      TEXT NOT NULL,
			expires_at  %s NOT NULL,
			yn          BOOLEAN NOT NULL DEFAULT TRUE
		)`, autoIncrement, timestampType),
	}
	for _, s := range stmts {
		if _, err := st.db.ExecContext(ctx, s); err != nil {
			return errs.New(errs.KindIntegrity, "auth_ensure_schema", err)
		}
	}
	return nil
}

// LoadScopes bootstraps the fixed scope roster into auth_scope (spec
// §4.6 / SPEC_FULL §D "Scopes are enumerated from a database table at
// startup"), merging on scope_name so repeated calls are idempotent.
func (st *Store) LoadScopes(ctx context.Context) error {
	for _, s := range AllScopes {
		q := fmt.Sprintf(`INSERT INTO auth_scope (scope_name) VALUES (%s)`, st.ph(1))
		if st.dialect == DialectPostgres {
			q += " ON CONFLICT (scope_name) DO NOTHING"
		} else {
			q = strings.Replace(q, "INSERT INTO", "INSERT OR IGNORE INTO", 1)
		}
		if _, err := st.db.ExecContext(ctx, q, string(s)); err != nil {
			return errs.New(errs.KindIntegrity, "auth_load_scopes", err)
		}
	}
	return nil
}

// GetUser looks up a user by username. A missing user is reported via
// the bool, not an error, so callers can fall through to the
// dummy-hash timing-attack neutralization path.
func (st *Store) GetUser(ctx context.Context, username string) (User, string, bool, error) {
	q := fmt.Sprintf(`SELECT username, password_hash, active, group_name FROM auth_user WHERE username = %s`, st.ph(1))
	var u User
	var group string
	err := st.db.QueryRowContext(ctx, q, username).Scan(&u.Username, &u.PasswordHash, &u.Active, &group)
	if err == sql.ErrNoRows {
		return User{}, "", false, nil
	}
	if err != nil {
		return User{}, "", false, errs.New(errs.KindUpstreamIO, "auth_get_user", err)
	}
	return u, group, true, nil
}

// ScopesForGroup returns every scope a group's members are granted.
func (st *Store) ScopesForGroup(ctx context.Context, group string) ([]string, error) {
	q := fmt.Sprintf(`SELECT scope_name FROM auth_group_scope_rel WHERE group_name = %s`, st.ph(1))
	rows, err := st.db.QueryContext(ctx, q, group)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "auth_scopes_for_group", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errs.New(errs.KindUpstreamIO, "auth_scopes_for_group_scan", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertRefreshToken persists a new refresh-token record as live (yn=1).
func (st *Store) InsertRefreshToken(ctx context.Context, rec RefreshTokenRecord) error {
	q := fmt.Sprintf(`INSERT INTO auth_refresh_token (jti, username, scopes, expires_at, yn)
		VALUES (%s, %s, %s, %s, %s)`, st.ph(1), st.ph(2), st.ph(3), st.ph(4), st.ph(5))
	_, err := st.db.ExecContext(ctx, q, rec.JTI, rec.Username, strings.Join(rec.Scopes, " "), rec.ExpiresAt, true)
	if err != nil {
		return errs.New(errs.KindUpstreamIO, "auth_insert_refresh_token", err)
	}
	return nil
}

// GetRefreshToken fetches a refresh-token record by jti.
func (st *Store) GetRefreshToken(ctx context.Context, jti string) (RefreshTokenRecord, bool, error) {
	q := fmt.Sprintf(`SELECT jti, username, scopes, expires_at, yn FROM auth_refresh_token WHERE jti = %s`, st.ph(1))
	var rec RefreshTokenRecord
	var scopes string
	err := st.db.QueryRowContext(ctx, q, jti).Scan(&rec.JTI, &rec.Username, &scopes, &rec.ExpiresAt, &rec.Yn)
	if err == sql.ErrNoRows {
		return RefreshTokenRecord{}, false, nil
	}
	if err != nil {
		return RefreshTokenRecord{}, false, errs.New(errs.KindUpstreamIO, "auth_get_refresh_token", err)
	}
	if scopes != "" {
		rec.Scopes = strings.Fields(scopes)
	}
	return rec, true, nil
}

// RevokeRefreshToken marks a refresh-token record dead (yn=0), the
// rotation step spec §4.6 requires on every successful /refresh and
// on /logout.
func (st *Store) RevokeRefreshToken(ctx context.Context, jti string) error {
	q := fmt.Sprintf(`UPDATE auth_refresh_token SET yn = %s WHERE jti = %s`, st.ph(1), st.ph(2))
	_, err := st.db.ExecContext(ctx, q, false, jti)
	if err != nil {
		return errs.New(errs.KindUpstreamIO, "auth_revoke_refresh_token", err)
	}
	return nil
}

// IsExpired reports whether a refresh-token record's expiry has passed.
func (r RefreshTokenRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
