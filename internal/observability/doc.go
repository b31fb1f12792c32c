// Package observability provides logging, metrics, and context helpers for
// the data repository service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for data client calls, caching, change events and the HTTP API
//   - Context helpers for propagating request data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger = observability.WithCollectionContext(logger, "notes")
//	logger.Info().Str("item_id", id).Msg("item created")
//
// Third-party libraries that expect a Printf-style logger (kafka-go, golang-migrate)
// are given a PrintfLogger.
//
// # Metrics
//
// Initialize metrics once per process; promauto registers them with the
// default registry:
//
//	metrics := observability.NewMetrics("data_repository")
//	metrics.RecordClientCall("notes", "read", 0.004, err)
//
// # Context Helpers
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithUserID(ctx, userID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//
// # Standard Fields
//
//   - request_id: API request identifier
//   - user_id: scoping user identifier
//   - collection: collection name
//   - operation: data client operation (create, read, read_all, ...)
//   - item_id: item identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
