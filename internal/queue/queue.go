// Package queue is the coordination layer between workers and the store. It
// translates worker intents (acquire, release, stats, sweep) into store calls
// and keeps an in-process table of which worker is running which job, for
// status reporting.
//
// A Queue is owned by a worker.Manager and handed to its workers; there is no
// package-level registry.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/scarson/queuectl/internal/job"
	"github.com/scarson/queuectl/internal/store"
)

// Queue wraps a Store with worker→job tracking.
type Queue struct {
	store *store.Store
	log   *slog.Logger

	mu     sync.Mutex
	active map[string][]string // workerID -> job ids
}

// New creates a Queue backed by s.
func New(s *store.Store, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		store:  s,
		log:    log,
		active: make(map[string][]string),
	}
}

// Store returns the backing store.
func (q *Queue) Store() *store.Store { return q.store }

// Enqueue validates sub and persists it as a pending job. When the
// submission omits max_retries, the max_retries setting applies.
func (q *Queue) Enqueue(ctx context.Context, sub job.Submission) (*job.Job, error) {
	cfg, err := q.store.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	j, err := job.New(sub, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	return q.store.CreateJob(ctx, j.ID, j.Command, j.MaxRetries)
}

// Acquire claims up to count jobs for workerID.
func (q *Queue) Acquire(ctx context.Context, workerID string, count int) ([]*job.Job, error) {
	return q.store.ClaimJobs(ctx, workerID, count)
}

// Track records that workerID is executing jobID.
func (q *Queue) Track(workerID, jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active[workerID] = append(q.active[workerID], jobID)
}

func (q *Queue) untrack(workerID, jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.active[workerID]
	if i := slices.Index(ids, jobID); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	}
	if len(ids) == 0 {
		delete(q.active, workerID)
		return
	}
	q.active[workerID] = ids
}

// Release clears workerID's claim on jobID and stops tracking it. The job is
// untracked even if the store call fails; the claim then heals by lease
// expiry.
func (q *Queue) Release(ctx context.Context, jobID, workerID string) error {
	defer q.untrack(workerID, jobID)
	if _, err := q.store.ReleaseLock(ctx, jobID, workerID); err != nil {
		return fmt.Errorf("release job %s: %w", jobID, err)
	}
	return nil
}

// ActiveJobs returns the job ids tracked for workerID.
func (q *Queue) ActiveJobs(workerID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.active[workerID])
}

// ActiveJobsCount returns the number of tracked jobs across all workers.
func (q *Queue) ActiveJobsCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, ids := range q.active {
		total += len(ids)
	}
	return total
}

// Stats returns job counts by state.
func (q *Queue) Stats(ctx context.Context) (map[job.State]int, error) {
	return q.store.CountJobsByState(ctx)
}

// DeadLetterJobs returns every job in the DLQ, oldest first.
func (q *Queue) DeadLetterJobs(ctx context.Context) ([]*job.Job, error) {
	return q.store.ListJobsByState(ctx, job.StateDead, 0)
}

// RetryDead moves a dead job back to pending.
func (q *Queue) RetryDead(ctx context.Context, id string) (*job.Job, error) {
	return q.store.RetryFromDLQ(ctx, id)
}

// SweepStaleClaims returns processing jobs whose claim outlived lease to the
// pending pool.
func (q *Queue) SweepStaleClaims(ctx context.Context, lease time.Duration) ([]string, error) {
	ids, err := q.store.SweepStaleClaims(ctx, lease)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		q.log.Info("recovered stale claims", "count", len(ids), "job_ids", ids)
	}
	return ids, nil
}
