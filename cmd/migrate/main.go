// Package main provides a CLI tool for the documents table migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/data-repository-service/internal/config"
	"github.com/helixir/data-repository-service/internal/database"
	"github.com/helixir/data-repository-service/internal/observability"
)

const connectTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// migrationFunc runs one action against an open migrator.
type migrationFunc func(m *database.Migrator, logger zerolog.Logger) error

func newRootCmd() *cobra.Command {
	var path string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the PostgreSQL schema of the data repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&path, "path", "", "override the migrations directory (default: database.migration_path)")

	action := func(fn migrationFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), path, fn)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: action(func(m *database.Migrator, logger zerolog.Logger) error {
				logger.Info().Msg("running all pending migrations")
				if err := m.Up(); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: action(func(m *database.Migrator, logger zerolog.Logger) error {
				logger.Warn().Msg("rolling back all migrations")
				if err := m.Down(); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations (negative N rolls back)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
				}
				return withMigrator(cmd.Context(), path, func(m *database.Migrator, logger zerolog.Logger) error {
					logger.Info().Int("steps", n).Msg("running migration steps")
					if err := m.Steps(n); err != nil {
						return fmt.Errorf("migrate steps: %w", err)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current migration version",
			Args:  cobra.NoArgs,
			RunE:  action(func(*database.Migrator, zerolog.Logger) error { return nil }),
		},
		&cobra.Command{
			Use:   "force V",
			Short: "Force the migration version after a failed migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 0 {
					return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
				}
				return withMigrator(cmd.Context(), path, func(m *database.Migrator, logger zerolog.Logger) error {
					logger.Warn().Int("version", v).Msg("forcing migration version")
					if err := m.Force(v); err != nil {
						return fmt.Errorf("force version: %w", err)
					}
					return nil
				})
			},
		},
	)
	return root
}

// withMigrator connects to the configured database, runs fn and reports the
// resulting schema version.
func withMigrator(ctx context.Context, pathOverride string, fn migrationFunc) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if pathOverride != "" {
		migrationDir = pathOverride
	}

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := database.New(connCtx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := fn(migrator, logger); err != nil {
		return err
	}
	printVersion(migrator, logger)
	return nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
