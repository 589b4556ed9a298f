package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

type contextKey string

const (
	ctxUserHash contextKey = "user_hash"
	ctxAPIKey   contextKey = "api_key"
)

// HashToken derives the stateless tenant identity from a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// authenticate requires a bearer token and stashes the derived user hash and
// the raw key (the caller's provider API key) on the request context. There
// is no identity store; the hash is the tenant.
func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeAPIError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			writeAPIError(w, http.StatusUnauthorized, codeUnauthorized, "empty bearer token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserHash, HashToken(token))
		ctx = context.WithValue(ctx, ctxAPIKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userHashFrom(ctx context.Context) string {
	hash, _ := ctx.Value(ctxUserHash).(string)
	return hash
}

func apiKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(ctxAPIKey).(string)
	return key
}
