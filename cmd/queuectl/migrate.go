package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/scarson/queuectl/internal/config"
	"github.com/scarson/queuectl/internal/settings"
	"github.com/scarson/queuectl/internal/store"
	"github.com/scarson/queuectl/migrations"
)

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg))

			version, err := runMigrations(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", version)
			return nil
		},
	}
}

// runMigrations applies every embedded migration and returns the resulting
// schema version.
func runMigrations(databaseURL string) (uint, error) {
	slog.Info("running migrations")

	// Source: embedded SQL files from the migrations package.
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate requires a *sql.DB. Use pgx's stdlib adapter so the same
	// driver is used project-wide. No pooling needed for a one-shot run.
	connCfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return 0, fmt.Errorf("parse db url: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version)
	return version, nil
}

// ── health ────────────────────────────────────────────────────────────────────

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity, schema, and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return checkHealth(ctx, cmd.OutOrStdout(), a.store)
		},
	}
}

// checkHealth reports each check on w and returns an error if any failed.
func checkHealth(ctx context.Context, w io.Writer, s *store.Store) error {
	healthy := true
	mark := func(ok bool) string {
		if ok {
			return "OK"
		}
		healthy = false
		return "FAILED"
	}

	pingErr := s.Ping(ctx)
	fmt.Fprintf(w, "database connection: %s\n", mark(pingErr == nil))
	if pingErr != nil {
		fmt.Fprintf(w, "  error: %v\n", pingErr)
		return fmt.Errorf("health check failed: %w", pingErr)
	}

	missing, err := s.MissingTables(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	fmt.Fprintf(w, "tables: %s\n", mark(len(missing) == 0))
	for _, t := range missing {
		fmt.Fprintf(w, "  missing table %q (run `queuectl migrate`)\n", t)
	}

	if len(missing) == 0 {
		list, err := s.ListSettings(ctx)
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		present := make(map[string]string, len(list))
		for _, st := range list {
			present[st.Key] = st.Value
		}
		for _, key := range settings.Keys {
			value, ok := present[key]
			if ok {
				fmt.Fprintf(w, "setting %s: OK (%s)\n", key, value)
			} else {
				fmt.Fprintf(w, "setting %s: %s (missing; default applies)\n", key, mark(false))
			}
		}
	}

	if !healthy {
		return errors.New("health check failed")
	}
	fmt.Fprintln(w, "healthy")
	return nil
}
