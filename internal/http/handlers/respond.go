package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/milad7akbari/sysense/internal/auth"
	"github.com/milad7akbari/sysense/internal/middleware"
)

// respondJSON writes v with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, status int, code string) {
	respondJSON(w, status, map[string]string{"error": code})
}

// respondServiceError maps service errors to responses. Unknown errors are
// logged and reported as internal_error without detail.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var rl *auth.RateLimitError
	switch {
	case errors.As(err, &rl):
		middleware.RespondRateLimited(w, rl.RetryAfterSeconds())
	case errors.Is(err, auth.ErrInvalidCredential):
		respondWithError(w, http.StatusUnauthorized, "invalid_credential")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		respondWithError(w, http.StatusUnauthorized, "invalid_refresh_token")
	case errors.Is(err, auth.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
	default:
		logger.Error("request failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal_error")
	}
}
