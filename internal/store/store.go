// Package store provides the data access layer for the jobs and config
// tables. All queries run on a *pgxpool.Pool; the claim path uses a native
// pgx transaction so that selection (FOR UPDATE SKIP LOCKED) and the
// processing transition commit together.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the central data access object shared by the queue, the workers
// and the CLI.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for health checks and tests.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// withTx runs fn inside a pgx transaction. The transaction is committed if fn
// returns nil, rolled back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MissingTables returns the names of required tables that do not exist.
func (s *Store) MissingTables(ctx context.Context) ([]string, error) {
	var jobsOK, configOK bool
	err := s.pool.QueryRow(ctx,
		`SELECT to_regclass('jobs') IS NOT NULL, to_regclass('config') IS NOT NULL`,
	).Scan(&jobsOK, &configOK)
	if err != nil {
		return nil, fmt.Errorf("check tables: %w", err)
	}
	var missing []string
	if !jobsOK {
		missing = append(missing, "jobs")
	}
	if !configOK {
		missing = append(missing, "config")
	}
	return missing, nil
}
