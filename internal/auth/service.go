package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/observability"
)

// dummyHash is compared against on every login for an unknown
// username, so a missing-user lookup costs the same wall-clock time as
// a wrong-password one (spec §4.6 "login must not leak whether a
// username exists via timing").
const dummyHash = "$2a$10$C6UzMDM.H6dfI/f/IKcEeOx0a.TJ1wSD4Jzzg4ZUzNVwyHeWOfFhq"

// Service implements the login/refresh/logout flow of spec §4.6.
type Service struct {
	store  *Store
	tokens *TokenIssuer
	logger *observability.Logger
}

func NewService(store *Store, tokens *TokenIssuer, logger *observability.Logger) *Service {
	return &Service{store: store, tokens: tokens, logger: logger}
}

// Login validates credentials, resolves the user's group scopes, and
// issues a fresh access/refresh pair.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, error) {
	user, group, found, err := s.store.GetUser(ctx, username)
	if err != nil {
		return TokenPair{}, err
	}

	hash := dummyHash
	if found {
		hash = user.PasswordHash
	}
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	if !found || bcryptErr != nil {
		return TokenPair{}, errs.New(errs.KindAuth, "auth_login", errs.ErrBadCredentials)
	}
	if !user.Active {
		return TokenPair{}, errs.New(errs.KindAuth, "auth_login", errs.ErrUserInactive)
	}

	scopes, err := s.store.ScopesForGroup(ctx, group)
	if err != nil {
		return TokenPair{}, err
	}

	return s.issuePair(ctx, username, scopes)
}

// Refresh validates a refresh token, rotates it (revoking the old jti
// and persisting a new one), and issues a fresh pair. requestedScopes,
// if non-empty, narrows the issued access token's scopes to the
// intersection with the token's own scopes; requesting a scope outside
// that set is rejected rather than silently dropped (spec §4.6
// "requesting a superset of the original grant is a 403").
func (s *Service) Refresh(ctx context.Context, refreshToken string, requestedScopes []string) (TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.ID == "" {
		return TokenPair{}, errs.New(errs.KindAuth, "auth_refresh", errs.ErrBadCredentials)
	}

	rec, found, err := s.store.GetRefreshToken(ctx, claims.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if !found || !rec.Yn {
		return TokenPair{}, errs.New(errs.KindAuth, "auth_refresh", errs.ErrTokenRevoked)
	}
	if rec.IsExpired(nowFunc()) {
		return TokenPair{}, errs.New(errs.KindAuth, "auth_refresh", errs.ErrTokenExpired)
	}

	grantedScopes := rec.Scopes
	if len(requestedScopes) > 0 {
		narrowed, err := intersectScopes(grantedScopes, requestedScopes)
		if err != nil {
			return TokenPair{}, err
		}
		grantedScopes = narrowed
	}

	if err := s.store.RevokeRefreshToken(ctx, claims.ID); err != nil {
		return TokenPair{}, err
	}

	return s.issuePair(ctx, rec.Username, grantedScopes)
}

// Logout revokes a refresh token's jti so it can no longer be used to
// mint new access tokens.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.Parse(refreshToken)
	if err != nil {
		return err
	}
	if claims.ID == "" {
		return errs.New(errs.KindAuth, "auth_logout", errs.ErrBadCredentials)
	}
	return s.store.RevokeRefreshToken(ctx, claims.ID)
}

func (s *Service) issuePair(ctx context.Context, username string, scopes []string) (TokenPair, error) {
	now := nowFunc()

	access, err := s.tokens.IssueAccess(username, scopes, now)
	if err != nil {
		return TokenPair{}, err
	}

	jti := uuid.NewString()
	refresh, expiresAt, err := s.tokens.IssueRefresh(username, scopes, jti, now)
	if err != nil {
		return TokenPair{}, err
	}

	rec := RefreshTokenRecord{JTI: jti, Username: username, ExpiresAt: expiresAt, Scopes: scopes, Yn: true}
	if err := s.store.InsertRefreshToken(ctx, rec); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// intersectScopes returns requested if every entry is present in
// granted, else a scope-shortage error.
func intersectScopes(granted, requested []string) ([]string, error) {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		grantedSet[s] = struct{}{}
	}
	for _, r := range requested {
		if _, ok := grantedSet[r]; !ok {
			return nil, errs.New(errs.KindAuth, "auth_scope_intersect", errs.ErrScopeShortage)
		}
	}
	return requested, nil
}

// nowFunc is overridable in tests for deterministic expiry checks.
var nowFunc = time.Now

// HashPassword bcrypt-hashes a plaintext password for storage when
// provisioning a user; the login flow itself only compares hashes.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errs.New(errs.KindAuth, "auth_hash_password", err)
	}
	return string(hash), nil
}
