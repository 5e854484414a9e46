package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jmcleod/bearer/internal/util"
	"github.com/jmcleod/bearer/internal/uuid"
)

const (
	maxBodyBytes     = 1 << 20
	refreshTokenSize = 32
)

var errRefreshRejected = errors.New("refresh token rejected")

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	limitKey := util.NormalizeUsername(req.Username)
	if blocked, retryAfter := a.rateLimiter.check(limitKey); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "rate limited")
		writeRateLimited(w, retryAfter)
		return
	}

	username, err := a.users.authenticate(req.Username, req.Password)
	if err != nil {
		a.rateLimiter.recordFailure(limitKey)
		a.audit.logFailure(AuditLoginFailure, r, "invalid credentials")
		mapError(w, err)
		return
	}
	a.rateLimiter.recordSuccess(limitKey)

	refreshToken, err := util.RandomToken(refreshTokenSize)
	if err != nil {
		mapError(w, err)
		return
	}
	now := a.now()
	sess := RefreshSession{
		ID:         uuid.New(),
		Username:   username,
		CSRFToken:  uuid.New(),
		IssuedAt:   now,
		ExpiresAt:  now.Add(a.refreshTTL),
		LastUsedAt: now,
	}
	if err := a.sessions.Put(r.Context(), refreshToken, sess); err != nil {
		mapError(w, err)
		return
	}

	access, exp, err := a.issueAccessToken(username, sess)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditLoginSuccess, r, username, sess.ID)
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(exp.Sub(now).Seconds()),
		CSRFToken:    sess.CSRFToken,
	})
}

// Refresh handles POST /auth/refresh. The refresh token is presented as a
// bearer credential and is reused, not rotated.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	a.metrics.recordRefresh()

	if a.refreshDelay > 0 {
		select {
		case <-time.After(a.refreshDelay):
		case <-r.Context().Done():
			return
		}
	}

	token, ok := bearerToken(r)
	if !ok {
		a.rejectRefresh(w, r, "missing refresh token")
		return
	}
	sess, ok, err := a.sessions.Touch(r.Context(), token, a.now())
	if err != nil {
		mapError(w, err)
		return
	}
	if !ok {
		a.rejectRefresh(w, r, "unknown or expired refresh token")
		return
	}
	access, exp, err := a.issueAccessToken(sess.Username, sess)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditTokenRefreshed, r, sess.Username, sess.ID)
	writeJSON(w, http.StatusOK, RefreshResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(exp.Sub(a.now()).Seconds()),
	})
}

func (a *API) rejectRefresh(w http.ResponseWriter, r *http.Request, reason string) {
	a.audit.logFailure(AuditRefreshFailure, r, reason)
	mapError(w, errRefreshRejected)
}

// Logout handles POST /auth/logout by revoking the presented refresh token.
// It always answers 204 so that clients can treat it as best-effort.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := bearerToken(r); ok {
		sess, found := a.sessions.Get(r.Context(), token)
		if err := a.sessions.Delete(r.Context(), token); err != nil {
			a.logger.Error().Err(err).Msg("revoking refresh token")
		}
		if found {
			a.audit.logEvent(AuditLogout, r, sess.Username, sess.ID)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeRefreshTokens deletes every refresh session, so the next refresh of
// any client fails.
func (a *API) RevokeRefreshTokens(ctx context.Context) error {
	if err := a.sessions.DeleteAll(ctx); err != nil {
		return err
	}
	a.logger.Info().Msg("refresh tokens revoked")
	return nil
}
