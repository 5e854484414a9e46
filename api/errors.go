package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, errRefreshRejected):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, errUserExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errInvalidUsername):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// tokenErrorMessage describes why an access token was rejected without
// echoing parser internals.
func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, errStaleGeneration):
		return "access token expired"
	default:
		return "invalid access token"
	}
}
