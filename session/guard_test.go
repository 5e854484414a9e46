package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/bearer/storage/memory"
)

func TestGuardReflectsStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewTokenStore()
	require.NoError(t, err)
	g := NewGuard(s)

	assert.False(t, g.IsLikelyAuthenticated())

	require.NoError(t, s.Set(ctx, "access", "refresh"))
	assert.True(t, g.IsLikelyAuthenticated())

	require.NoError(t, s.Clear(ctx))
	assert.False(t, g.IsLikelyAuthenticated())
}

func TestGuardOptimisticWithPersistedRefreshToken(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	prev := newPersistentStore(t, repo)
	require.NoError(t, prev.Set(ctx, "access", "refresh"))

	s := newPersistentStore(t, repo)
	require.NoError(t, s.LoadPersisted(ctx))
	g := NewGuard(s)

	assert.True(t, g.IsLikelyAuthenticated())
	assert.Empty(t, s.AccessToken())
}

func TestGuardMiddleware(t *testing.T) {
	s, err := NewTokenStore()
	require.NoError(t, err)
	g := NewGuard(s)

	protected := g.Middleware("/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("dashboard"))
	}))

	t.Run("AnonymousRedirects", func(t *testing.T) {
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dashboard?tab=2", nil))
		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/login?next=%2Fdashboard%3Ftab%3D2", rr.Header().Get("Location"))
	})

	t.Run("AnonymousHTMX", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.Header.Set("HX-Request", "true")
		protected.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "/login?next=%2Fdashboard", rr.Header().Get("HX-Redirect"))
	})

	t.Run("LoginPathPassesThrough", func(t *testing.T) {
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/login", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("ActiveRenders", func(t *testing.T) {
		require.NoError(t, s.Set(context.Background(), "", "refresh"))
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "dashboard", rr.Body.String())
	})
}
