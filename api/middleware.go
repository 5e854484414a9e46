package api

import (
	"context"
	"net/http"
	"strings"
)

type contextKey int

const claimsKey contextKey = iota

// AuthMiddleware requires a valid bearer access token and stores its claims
// on the request context. Every rejection is a 401 so that clients know to
// refresh.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="bearer"`)
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := a.parseAccessToken(raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="bearer", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, tokenErrorMessage(err))
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func claimsFromContext(ctx context.Context) *accessClaims {
	claims, _ := ctx.Value(claimsKey).(*accessClaims)
	return claims
}
