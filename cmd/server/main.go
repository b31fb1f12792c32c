// Package main provides the entry point for the data repository HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/data-repository-service/internal/cache"
	"github.com/helixir/data-repository-service/internal/config"
	"github.com/helixir/data-repository-service/internal/database"
	"github.com/helixir/data-repository-service/internal/events"
	"github.com/helixir/data-repository-service/internal/observability"
	httpserver "github.com/helixir/data-repository-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("data-repository-service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("data_repository")
	factory := &clientFactory{cfg: cfg, metrics: metrics, logger: logger}
	var opts []httpserver.Option
	opts = append(opts, httpserver.WithMetrics(metrics))

	if cfg.Storage.Driver == config.DriverPostgres {
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun {
			if err := migrateUp(db, cfg.Database.MigrationPath, logger); err != nil {
				return err
			}
		}
		factory.db = db
		opts = append(opts, httpserver.WithReadinessCheck("database", db))
	}

	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cache.Config{
			Backend:       cfg.Cache.Backend,
			DefaultTTL:    cfg.Cache.TTL,
			Prefix:        cfg.Cache.Prefix,
			RedisAddr:     cfg.Redis.Addr,
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("create cache: %w", err)
		}
		defer func() {
			if closeErr := c.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close cache")
			}
		}()
		factory.cache = c
		opts = append(opts, httpserver.WithReadinessCheck("cache", httpserver.HealthCheckFunc(c.Ping)))
		logger.Info().Str("backend", cfg.Cache.Backend).Dur("ttl", cfg.Cache.TTL).Msg("read-through cache enabled")
	}

	var listener *events.Listener
	if cfg.Kafka.Enabled {
		kafkaCfg := events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			GroupID:      cfg.Kafka.GroupID,
		}
		pub, err := events.NewKafkaPublisher(kafkaCfg, logger)
		if err != nil {
			return fmt.Errorf("create event publisher: %w", err)
		}
		defer func() {
			if closeErr := pub.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close event publisher")
			}
		}()
		// Each instance gets its own source and consumer group so that it sees
		// every change made by its peers but skips its own.
		instanceID, generated := kafkaInstanceID(cfg.Kafka.InstanceID)
		if generated {
			logger.Warn().Str("instance_id", instanceID).
				Msg("kafka.instance_id not set; using a random id, so every restart leaves a consumer group behind")
		}
		factory.emitter = events.NewEmitter(events.EmitterConfig{
			ServiceName: cfg.Kafka.ServiceName + "/" + instanceID,
		})
		factory.pub = pub

		// A redis cache is shared and already invalidated by the writer.
		if factory.cache != nil && cfg.Cache.Backend != cache.BackendRedis {
			kafkaCfg.GroupID = cfg.Kafka.GroupID + "-" + instanceID
			listener = events.NewListener(kafkaCfg, factory.emitter.Source(), invalidationHandler(factory.cache, metrics), logger)
			defer func() {
				if closeErr := listener.Close(); closeErr != nil {
					logger.Error().Err(closeErr).Msg("failed to close change listener")
				}
			}()
		}
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("change events enabled")
	}

	registry, err := newCollectionRegistry(factory, cfg.Storage.Collections)
	if err != nil {
		return fmt.Errorf("build collections: %w", err)
	}
	if registry.open {
		logger.Warn().Msg("no collections configured; collections are created on first use")
	}

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		APIKey:          cfg.Server.APIKey,
	}
	httpSrv := httpserver.NewServer(httpCfg, registry, logger, opts...)

	// Prometheus metrics are served on a separate port.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	errCh := make(chan error, 3)

	go func() {
		logger.Info().Str("address", httpCfg.Address).Msg("HTTP API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	if listener != nil {
		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("change listener error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Strs("collections", registry.Names())
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("data-repository-service is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down data-repository-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("data-repository-service shutdown complete")
	return nil
}

// migrateUp applies pending migrations before serving.
func migrateUp(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// kafkaInstanceID returns the configured instance id, or a random one when
// none is configured.
func kafkaInstanceID(configured string) (id string, generated bool) {
	if configured != "" {
		return configured, false
	}
	return uuid.NewString(), true
}
