package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type ctxKey int

const (
	ctxKeyUsername ctxKey = iota
	ctxKeyScopes
)

// UsernameFromContext returns the authenticated caller's username, if
// RequireScopes has run on the request.
func UsernameFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyUsername).(string)
	return v, ok
}

// ScopesFromContext returns the authenticated caller's granted scopes.
func ScopesFromContext(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(ctxKeyScopes).([]string)
	return v, ok
}

// RequireScopes builds chi middleware that parses the bearer access
// token, rejects missing/invalid/expired tokens with 401, and rejects
// a valid token lacking any of the required scopes with 403 (spec
// §4.6 "each metadata endpoint is gated on exactly one scope"). The
// response carries a WWW-Authenticate header naming the scope, in the
// RFC 6750 error-description style.
func RequireScopes(tokens *TokenIssuer, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				unauthorized(w, required, "missing bearer token")
				return
			}

			claims, err := tokens.Parse(tokenString)
			if err != nil {
				unauthorized(w, required, "invalid or expired token")
				return
			}

			if !hasAllScopes(claims.Scopes, required) {
				forbidden(w, required)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUsername, claims.Subject)
			ctx = context.WithValue(ctx, ctxKeyScopes, claims.Scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func hasAllScopes(granted, required []string) bool {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		grantedSet[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := grantedSet[r]; !ok {
			return false
		}
	}
	return true
}

func unauthorized(w http.ResponseWriter, scopes []string, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer scope=%q, error="invalid_token", error_description=%q`, strings.Join(scopes, " "), description))
	http.Error(w, description, http.StatusUnauthorized)
}

func forbidden(w http.ResponseWriter, scopes []string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer scope=%q, error="insufficient_scope"`, strings.Join(scopes, " ")))
	http.Error(w, "insufficient scope", http.StatusForbidden)
}
