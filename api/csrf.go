package api

import (
	"crypto/subtle"
	"net/http"
)

const csrfHeaderName = "X-CSRF-Token"

// CSRFMiddleware requires mutating requests to echo the CSRF token issued
// at login. Safe methods are exempt. It must run after AuthMiddleware.
func (a *API) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		claims := claimsFromContext(r.Context())
		if claims == nil || claims.CSRF == "" {
			writeError(w, http.StatusForbidden, "missing CSRF token")
			return
		}
		header := r.Header.Get(csrfHeaderName)
		if subtle.ConstantTimeCompare([]byte(claims.CSRF), []byte(header)) != 1 {
			writeError(w, http.StatusForbidden, "invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
