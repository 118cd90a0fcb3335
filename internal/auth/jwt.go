package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/metaground/retrieval-engine/internal/errs"
)

// Claims is the JWT payload shared by access and refresh tokens. A
// refresh token carries a non-empty JTI; an access token leaves it
// blank, distinguishing the two at parse time.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// TokenIssuer mints and validates HS256 access/refresh tokens per spec
// §4.6, mirroring jwt-go's claims-struct idiom.
type TokenIssuer struct {
	secret          []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), accessTokenTTL: accessTTL, refreshTokenTTL: refreshTTL}
}

// IssueAccess mints a short-lived access token carrying the caller's
// granted scopes.
func (ti *TokenIssuer) IssueAccess(username string, scopes []string, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.accessTokenTTL)),
		},
		Scopes: scopes,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(ti.secret)
	if err != nil {
		return "", errs.New(errs.KindAuth, "auth_issue_access", err)
	}
	return signed, nil
}

// IssueRefresh mints a refresh token carrying the given jti, returning
// the signed token and its expiry so the caller can persist a
// RefreshTokenRecord alongside it.
func (ti *TokenIssuer) IssueRefresh(username string, scopes []string, jti string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(ti.refreshTokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scopes: scopes,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, errs.New(errs.KindAuth, "auth_issue_refresh", err)
	}
	return signed, expiresAt, nil
}

// Parse validates signature and expiry and returns the claims. Expired
// tokens surface as errs.ErrTokenExpired so callers can distinguish
// that case from a malformed or tampered token.
func (ti *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.New(errs.KindAuth, "auth_parse_token", errs.ErrTokenExpired)
		}
		return nil, errs.New(errs.KindAuth, "auth_parse_token", err)
	}
	return claims, nil
}
