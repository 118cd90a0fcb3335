// Package auth implements the OAuth2-password flow of spec §4.6:
// login, refresh-token rotation, logout, and a scope-gated HTTP
// authentication dependency, grounded on the teacher's repository/
// middleware idiom (internal/storage/repositories.go's transactional
// CRUD pattern, cmd/knowledge-engine-api/middleware/auth.go's
// context-key injection shape) but implementing real HS256 issuance
// and validation in place of the teacher's placeholder validateToken.
package auth

import "time"

// User is one row of the users table, joined with its group's scopes
// at login time.
type User struct {
	Username     string
	PasswordHash string
	Active       bool
}

// Scope names one of the metadata-endpoint permissions spec §4.6
// enumerates: get_table, get_column, retrieve_knowledge,
// retrieve_column, retrieve_cell, save_metadata, clear_metadata.
type Scope string

const (
	ScopeGetTable         Scope = "get_table"
	ScopeGetColumn        Scope = "get_column"
	ScopeRetrieveKnowledge Scope = "retrieve_knowledge"
	ScopeRetrieveColumn   Scope = "retrieve_column"
	ScopeRetrieveCell     Scope = "retrieve_cell"
	ScopeSaveMetadata     Scope = "save_metadata"
	ScopeClearMetadata    Scope = "clear_metadata"
)

// AllScopes is the fixed scope roster bootstrapped into the scope
// table at startup (spec §4.6 "Scopes are enumerated from a database
// table at startup").
var AllScopes = []Scope{
	ScopeGetTable, ScopeGetColumn, ScopeRetrieveKnowledge,
	ScopeRetrieveColumn, ScopeRetrieveCell, ScopeSaveMetadata, ScopeClearMetadata,
}

// RefreshTokenRecord is one persisted refresh-token row: its jti,
// owning username, expiry, and liveness flag (spec §4.6 "(username,
// expires_at, yn=1)").
type RefreshTokenRecord struct {
	JTI       string
	Username  string
	ExpiresAt time.Time
	Scopes    []string
	Yn        bool
}

// TokenPair is the response shape the login and refresh endpoints return.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}
