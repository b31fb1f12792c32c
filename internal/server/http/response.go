package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/helixir/data-repository-service/internal/dataclient"
	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/wire"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", wire.ContentTypeJSON)
	w.WriteHeader(statusCode)
	// Headers are already sent; an encode failure can only truncate the body.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeErrorCode(w, statusCode, wire.ErrorCode(statusCode), message)
}

func writeErrorCode(w http.ResponseWriter, statusCode int, code, message string) {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	writeJSON(w, statusCode, wire.ErrorBody{Error: message, Code: code})
}

// writeData wraps data in the response envelope.
func writeData[T any](ctx context.Context, w http.ResponseWriter, statusCode int, data T) {
	writeJSON(w, statusCode, domain.NewEnvelope(data, dataclient.NewMeta(ctx)))
}

// writeDomainError maps a repository error to an API response.
// Internal failures are logged and reported without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, validationErr.Error())
		return
	}

	if httpErr, ok := domain.AsHTTPError(err); ok && httpErr.StatusCode >= 400 && httpErr.StatusCode <= 599 {
		if httpErr.StatusCode >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", r.URL.Path).Msg("data client failure")
		}
		if httpErr.StatusCode == http.StatusTooManyRequests {
			w.Header().Set(wire.HeaderRetryAfter, "1")
		}
		writeError(w, httpErr.StatusCode, httpErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidFormat):
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("stored item does not match its shape")
		writeErrorCode(w, http.StatusInternalServerError, "invalid_format", "stored item could not be decoded")
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		w.Header().Set(wire.HeaderRetryAfter, "1")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Err(err).Str("path", r.URL.Path).Msg("dependency unavailable")
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the response.
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
