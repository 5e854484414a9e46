package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoginServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Username != "alice" || req.Password != "wonderland" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "a1",
			"refresh_token": "r1",
			"token_type":    "Bearer",
			"expires_in":    60,
		})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer r1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPublicLogin(t *testing.T) {
	srv := newLoginServer(t)
	p, err := NewPublic(srv.URL + "/")
	require.NoError(t, err)

	tok, err := p.Login(context.Background(), "alice", "wonderland")
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Minute), tok.Expiry, 5*time.Second)
}

func TestPublicLoginRejected(t *testing.T) {
	srv := newLoginServer(t)
	p, err := NewPublic(srv.URL)
	require.NoError(t, err)

	_, err = p.Login(context.Background(), "alice", "nope")
	require.ErrorIs(t, err, ErrLoginRejected)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid credentials", apiErr.Message)
}

func TestPublicLogout(t *testing.T) {
	srv := newLoginServer(t)
	p, err := NewPublic(srv.URL)
	require.NoError(t, err)

	require.NoError(t, p.Logout(context.Background(), "r1"))
	require.NoError(t, p.Logout(context.Background(), ""), "nothing to revoke")

	var apiErr *APIError
	require.ErrorAs(t, p.Logout(context.Background(), "other"), &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestParseBaseURL(t *testing.T) {
	u, err := ParseBaseURL("https://api.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", u.String())

	for _, raw := range []string{"ftp://example.com", "example.com", "http://", "://bad"} {
		_, err := ParseBaseURL(raw)
		assert.Error(t, err, raw)
	}
}
