package session

import (
	"net/http"
	"net/url"
)

// SessionChecker reports whether credentials are held.
type SessionChecker interface {
	HasSession() bool
}

// Guard is consulted by page-level code before rendering a protected view.
// It never performs I/O and never triggers a refresh; the first real API
// call decides whether the session actually works.
type Guard struct {
	store SessionChecker
}

// NewGuard returns a Guard backed by store.
func NewGuard(store SessionChecker) *Guard {
	return &Guard{store: store}
}

// IsLikelyAuthenticated reports whether a protected render is worth
// attempting. A persisted refresh token alone is enough to say yes.
func (g *Guard) IsLikelyAuthenticated() bool {
	return g.store.HasSession()
}

// Middleware redirects requests to loginPath when the guard reports an
// anonymous session. Requests for loginPath itself always pass through.
// htmx requests receive an HX-Redirect header instead of a 303.
func (g *Guard) Middleware(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.IsLikelyAuthenticated() || r.URL.Path == loginPath {
				next.ServeHTTP(w, r)
				return
			}

			target := loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
			if r.Header.Get("HX-Request") == "true" {
				w.Header().Set("HX-Redirect", target)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
		})
	}
}
