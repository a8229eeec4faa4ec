// ABOUTME: Store methods for the jobs table: create, lookups, atomic claim, transitions, stale sweep.
// ABOUTME: Every mutation is a single-row conditional write that returns the new row via RETURNING.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/scarson/queuectl/internal/job"
)

// psql builds the dynamically filtered list queries.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// pgUniqueViolation is the SQLSTATE for a primary key / unique conflict.
const pgUniqueViolation = "23505"

const jobColumns = `id, command, state, attempts, max_retries, run_after,
	locked_by, locked_at, error_message, output,
	created_at, updated_at, completed_at`

// selectClaimableSQL picks the oldest eligible jobs. SKIP LOCKED makes
// concurrent claimers pass over rows another transaction is examining
// instead of blocking on them.
const selectClaimableSQL = `
SELECT id FROM jobs
WHERE state = 'pending'
  AND run_after <= now()
  AND (locked_by IS NULL OR locked_at < now() - ($2::double precision * interval '1 second'))
ORDER BY created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

const claimSQL = `
UPDATE jobs
SET locked_by = $1, locked_at = now(), state = 'processing', updated_at = now()
WHERE id = ANY($2)
RETURNING ` + jobColumns

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j     job.Job
		state string
	)
	if err := row.Scan(
		&j.ID, &j.Command, &state, &j.Attempts, &j.MaxRetries, &j.RunAfter,
		&j.LockedBy, &j.LockedAt, &j.ErrorMessage, &j.Output,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	); err != nil {
		return nil, err
	}
	j.State = job.State(state)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*job.Job, error) {
		return scanJob(row)
	})
}

// queryJob runs a statement expected to return exactly one job row.
// pgx.ErrNoRows is translated to job.ErrJobNotFound.
func (s *Store) queryJob(ctx context.Context, op, sql string, args ...any) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// CreateJob inserts a pending job with run_after = now(). Returns
// job.ErrDuplicateJob if id already exists.
func (s *Store) CreateJob(ctx context.Context, id, command string, maxRetries int) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, command, max_retries, run_after, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now(), now())
		RETURNING `+jobColumns,
		id, command, maxRetries,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("%w: %s", job.ErrDuplicateJob, id)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

// GetJob returns the job with the given id or job.ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return s.queryJob(ctx, "get job", `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
}

// ListJobsByState returns jobs in state, oldest created first. limit <= 0
// means no limit.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, limit int) ([]*job.Job, error) {
	sb := psql.Select(jobColumns).
		From("jobs").
		Where(sq.Eq{"state": string(state)}).
		OrderBy("created_at ASC")
	return s.listJobs(ctx, "list jobs by state", sb, limit)
}

// ListJobs returns up to limit jobs, newest created first. limit <= 0 means
// no limit.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	sb := psql.Select(jobColumns).
		From("jobs").
		OrderBy("created_at DESC")
	return s.listJobs(ctx, "list jobs", sb, limit)
}

func (s *Store) listJobs(ctx context.Context, op string, sb sq.SelectBuilder, limit int) ([]*job.Job, error) {
	if limit > 0 {
		sb = sb.Limit(uint64(limit)) //nolint:gosec // G115: checked positive above
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return jobs, nil
}

// ClaimJobs atomically claims up to count eligible jobs for workerID and
// moves them to processing. Eligible means pending, run_after reached, and
// either unclaimed or holding a claim older than job.ClaimLease. Returns the
// claimed jobs oldest created first, or an empty slice without side effects
// when nothing is eligible.
func (s *Store) ClaimJobs(ctx context.Context, workerID string, count int) ([]*job.Job, error) {
	if count <= 0 {
		return nil, nil
	}
	var claimed []*job.Job
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, selectClaimableSQL, count, job.ClaimLease.Seconds())
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		rows, err = tx.Query(ctx, claimSQL, workerID, ids)
		if err != nil {
			return err
		}
		claimed, err = collectJobs(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	slices.SortStableFunc(claimed, func(a, b *job.Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return claimed, nil
}

// CountJobsByState returns the number of jobs per state. States with no jobs
// are absent from the map.
func (s *Store) CountJobsByState(ctx context.Context) (map[job.State]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("count jobs by state: %w", err)
		}
		counts[job.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs by state: %w", err)
	}
	return counts, nil
}

// SweepStaleClaims resets processing jobs whose claim is older than lease
// back to pending and clears the claim. A processing job with no claim at all
// is an orphan left by a worker that released it without recording an
// outcome, and is reset too. attempts and run_after are left untouched.
// Returns the ids that were recovered.
func (s *Store) SweepStaleClaims(ctx context.Context, lease time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs
		SET locked_by = NULL, locked_at = NULL, state = 'pending', updated_at = now()
		WHERE state = 'processing'
		  AND (locked_at IS NULL
		       OR locked_at < now() - ($1::double precision * interval '1 second'))
		RETURNING id`,
		lease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("sweep stale claims: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("sweep stale claims: %w", err)
	}
	return ids, nil
}

// UpdateJobState persists a state transition. Moving to completed stamps
// completed_at and clears error_message; for any other state a non-nil
// errMsg overwrites error_message.
func (s *Store) UpdateJobState(ctx context.Context, id string, state job.State, errMsg *string) (*job.Job, error) {
	return s.queryJob(ctx, "update job state", `
		UPDATE jobs
		SET state = $2::text,
		    updated_at = now(),
		    error_message = CASE
		        WHEN $2::text = 'completed' THEN NULL
		        WHEN $3::text IS NULL THEN error_message
		        ELSE $3::text
		    END,
		    completed_at = CASE WHEN $2::text = 'completed' THEN now() ELSE completed_at END
		WHERE id = $1
		RETURNING `+jobColumns,
		id, string(state), errMsg,
	)
}

// IncrementAttempts durably adds one to attempts.
func (s *Store) IncrementAttempts(ctx context.Context, id string) (*job.Job, error) {
	return s.queryJob(ctx, "increment attempts", `
		UPDATE jobs SET attempts = attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns,
		id,
	)
}

// SetRunAfter reschedules the earliest time the job may be claimed.
func (s *Store) SetRunAfter(ctx context.Context, id string, runAfter time.Time) (*job.Job, error) {
	return s.queryJob(ctx, "set run_after", `
		UPDATE jobs SET run_after = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns,
		id, runAfter,
	)
}

// SetOutput stores the result of a successful execution.
func (s *Store) SetOutput(ctx context.Context, id, output string) (*job.Job, error) {
	return s.queryJob(ctx, "set output", `
		UPDATE jobs SET output = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns,
		id, output,
	)
}

// RetryFromDLQ moves a dead job back to pending with a fresh retry budget.
// Returns job.ErrJobNotFound for unknown ids and job.ErrInvalidStateTransition
// if the job is not dead.
func (s *Store) RetryFromDLQ(ctx context.Context, id string) (*job.Job, error) {
	j, err := s.queryJob(ctx, "retry from dlq", `
		UPDATE jobs
		SET state = 'pending', attempts = 0, error_message = NULL,
		    run_after = now(), updated_at = now(), completed_at = NULL
		WHERE id = $1 AND state = 'dead'
		RETURNING `+jobColumns,
		id,
	)
	if !errors.Is(err, job.ErrJobNotFound) {
		return j, err
	}
	current, getErr := s.GetJob(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: job %s is %s, not dead", job.ErrInvalidStateTransition, id, current.State)
}

// ReleaseLock clears the claim on a job without changing its state. Releasing
// an unclaimed job is a no-op. When owner is non-empty the claim is only
// cleared if owner still holds it, so a worker whose lease expired cannot
// release a claim another worker has since taken; the current row is returned
// either way.
func (s *Store) ReleaseLock(ctx context.Context, id, owner string) (*job.Job, error) {
	j, err := s.queryJob(ctx, "release lock", `
		UPDATE jobs SET locked_by = NULL, locked_at = NULL
		WHERE id = $1 AND ($2::text = '' OR locked_by IS NULL OR locked_by = $2::text)
		RETURNING `+jobColumns,
		id, owner,
	)
	if errors.Is(err, job.ErrJobNotFound) {
		return s.GetJob(ctx, id)
	}
	return j, err
}
