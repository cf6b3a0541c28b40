package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vidshare/backend/internal/auth"
	"github.com/vidshare/backend/internal/authz"
	"github.com/vidshare/backend/internal/logging"
	"github.com/vidshare/backend/internal/txn"
	"github.com/vidshare/backend/internal/videos"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

var errInvalidBody = errors.New("invalid request body")

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logging.FromContext(r.Context()).Warn("invalid request payload", "error", err)
		return errInvalidBody
	}
	return nil
}

// statusFor maps domain errors to HTTP statuses. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidBody),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, videos.ErrTitleRequired),
		errors.Is(err, videos.ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(err, authz.ErrUnauthenticated),
		errors.Is(err, authz.ErrTokenExpired),
		errors.Is(err, authz.ErrAccessTokenRequired),
		errors.Is(err, authz.ErrRefreshTokenRequired),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidRefreshToken):
		return http.StatusUnauthorized
	case errors.Is(err, authz.ErrRoleDenied):
		return http.StatusForbidden
	case errors.Is(err, videos.ErrVideoNotFound),
		errors.Is(err, videos.ErrOwnerNotFound),
		errors.Is(err, auth.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrDuplicateAccount):
		return http.StatusConflict
	case errors.Is(err, videos.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, videos.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, txn.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Server errors never expose their message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logging.FromContext(ctx).Error("unhandled error", "error", err)
		message = http.StatusText(status)
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		message = "service temporarily unavailable"
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="vidshare"`)
	}
	respondJSON(ctx, w, status, map[string]string{"error": message})
}

func denyRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(r.Context(), w, err)
}
