package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/helixir/data-repository-service/internal/observability"
	"github.com/helixir/data-repository-service/internal/wire"
)

// HeaderAPIKey carries the shared API key when one is configured.
const HeaderAPIKey = "X-API-Key"

type contextKey string

const ctxKeyRepository contextKey = "repository"

// correlationIDMiddleware ensures every request has a correlation ID and
// stores it as the request ID used in logs and response metadata.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(wire.HeaderCorrelationID)
		if correlationID == "" {
			correlationID = middleware.GetReqID(r.Context())
		}
		if correlationID == "" {
			buf := make([]byte, 8)
			if _, err := rand.Read(buf); err != nil {
				correlationID = fmt.Sprintf("%x", time.Now().UnixNano())
			} else {
				correlationID = fmt.Sprintf("%x", buf)
			}
		}

		w.Header().Set(wire.HeaderCorrelationID, correlationID)
		ctx := observability.WithRequestID(r.Context(), correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonContentTypeMiddleware sets Content-Type: application/json for all responses.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", wire.ContentTypeJSON)
		next.ServeHTTP(w, r)
	})
}

// userContextMiddleware stores the scoping user from X-User-ID in the context.
func userContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get(wire.HeaderUserID); userID != "" {
			r = r.WithContext(observability.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware rejects requests that do not carry key in X-API-Key.
func apiKeyMiddleware(key string) func(http.Handler) http.Handler {
	want := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(HeaderAPIKey))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, http.StatusUnauthorized, "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// collectionMiddleware resolves {collection} to a repository. Unknown collections are 404.
func (s *Server) collectionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "collection")
		create := r.Method == http.MethodPost && strings.HasSuffix(strings.TrimRight(r.URL.Path, "/"), "/items")
		repo, ok := s.registry.Lookup(name, create)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q not found", name))
			return
		}
		ctx := observability.WithCollection(r.Context(), name)
		ctx = context.WithValue(ctx, ctxKeyRepository, repo)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// repositoryFromContext returns the repository stored by collectionMiddleware.
func repositoryFromContext(ctx context.Context) *DocumentRepository {
	repo, _ := ctx.Value(ctxKeyRepository).(*DocumentRepository)
	return repo
}

// accessLogMiddleware logs every request and records request metrics.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), elapsed.Seconds())
		}

		event := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("request_id", observability.RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("request completed")
	})
}
