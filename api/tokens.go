package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/bearer/internal/uuid"
)

var (
	errStaleGeneration = errors.New("access token invalidated")
	errMissingSession  = errors.New("access token carries no session id")
)

// accessClaims are carried by every access token.
type accessClaims struct {
	jwt.RegisteredClaims
	SessionID  string `json:"sid"`
	CSRF       string `json:"csrf,omitempty"`
	Generation uint64 `json:"gen"`
}

func (a *API) issueAccessToken(username string, sess RefreshSession) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.accessTTL)
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			ID:        uuid.New(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		SessionID:  sess.ID,
		CSRF:       sess.CSRFToken,
		Generation: a.generation.Load(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, exp, nil
}

func (a *API) parseAccessToken(raw string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	if !uuid.Valid(claims.SessionID) {
		return nil, errMissingSession
	}
	if claims.Generation != a.generation.Load() {
		return nil, errStaleGeneration
	}
	return claims, nil
}
