// Package worker runs claimed jobs as shell subprocesses.
//
// A Worker polls the queue, claiming up to its free concurrency slots per
// pass with FOR UPDATE SKIP LOCKED, and runs each job on its own goroutine.
// Failures feed the retry state machine: rescheduled with exponential backoff
// while attempts remain, moved to the dead letter queue once they do not.
//
// A Manager owns the Queue, the workers sharing it, and the stale-claim
// sweeper.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scarson/queuectl/internal/backoff"
	"github.com/scarson/queuectl/internal/job"
	"github.com/scarson/queuectl/internal/metrics"
	"github.com/scarson/queuectl/internal/queue"
)

const (
	// pollInterval is the pause between claim passes.
	pollInterval = 100 * time.Millisecond

	// errorBackoff replaces pollInterval after a failed pass.
	errorBackoff = 1 * time.Second

	// drainInterval is how often Stop re-checks for in-flight jobs.
	drainInterval = 100 * time.Millisecond
)

// Option configures a Worker.
type Option func(*Worker)

// WithExecutor replaces RunShell as the command runner.
func WithExecutor(fn ExecFunc) Option {
	return func(w *Worker) { w.exec = fn }
}

// WithMetrics records claims and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithLogger sets the worker's logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// Status is a point-in-time snapshot of one worker.
type Status struct {
	ID             int      `json:"id"`
	WorkerID       string   `json:"worker_id"`
	Running        bool     `json:"running"`
	ActiveJobs     []string `json:"active_jobs"`
	ActiveJobCount int      `json:"active_job_count"`
	Concurrency    int      `json:"concurrency"`
}

// Worker claims and executes jobs until stopped.
type Worker struct {
	id       int
	workerID string
	queue    *queue.Queue
	exec     ExecFunc
	metrics  *metrics.Metrics
	log      *slog.Logger

	running atomic.Bool

	mu          sync.Mutex // guards the fields below
	concurrency int
	base        float64
	jobCtx      context.Context
	cancel      context.CancelFunc
	done        chan struct{}

	activeMu sync.Mutex
	active   map[string]struct{}
}

// New creates a stopped worker. workerID is written to locked_by on every job
// this worker claims and must be unique across all processes sharing the
// database.
func New(id int, workerID string, q *queue.Queue, opts ...Option) *Worker {
	w := &Worker{
		id:       id,
		workerID: workerID,
		queue:    q,
		exec:     RunShell,
		log:      slog.Default(),
		active:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("worker", id, "worker_id", workerID)
	return w
}

// ID returns the worker's ordinal within its manager.
func (w *Worker) ID() int { return w.id }

// WorkerID returns the identity written to locked_by.
func (w *Worker) WorkerID() string { return w.workerID }

// Start loads concurrency_per_worker and exponential_base from the config
// table and launches the polling loop. Starting a running worker is a no-op.
//
// The loop runs until Stop; cancelling ctx does not stop it. Job executions
// inherit ctx's values but never its cancellation.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running.Load() {
		return nil
	}

	cfg, err := w.queue.Store().LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("start worker %d: %w", w.id, err)
	}
	w.concurrency = cfg.ConcurrencyPerWorker
	w.base = cfg.ExponentialBase

	detached := context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(detached)
	w.jobCtx = detached
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running.Store(true)

	go w.loop(loopCtx, w.done, w.concurrency)

	w.log.Info("worker started", "concurrency", w.concurrency, "exponential_base", w.base)
	return nil
}

// Stop stops claiming new jobs and waits for in-flight executions to finish
// and release their claims. If ctx ends first, Stop returns ctx.Err() and the
// remaining executions keep running in the background. Stopping a stopped
// worker is a no-op.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running.Load() {
		w.mu.Unlock()
		return nil
	}
	w.running.Store(false)
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	w.log.Info("stopping worker", "active_jobs", w.ActiveJobCount())
	cancel()

	// The loop may be mid-claim; wait for it so nothing is added to the
	// active set after it is observed empty.
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for w.ActiveJobCount() > 0 {
		select {
		case <-ctx.Done():
			w.log.Warn("worker stop timed out", "active_jobs", w.ActiveJobCount())
			return ctx.Err()
		case <-ticker.C:
		}
	}

	w.log.Info("worker stopped")
	return nil
}

// Running reports whether the worker is accepting new jobs.
func (w *Worker) Running() bool { return w.running.Load() }

// ActiveJobCount returns the number of jobs executing on this worker.
func (w *Worker) ActiveJobCount() int {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	return len(w.active)
}

// Status returns a snapshot of the worker.
func (w *Worker) Status() Status {
	w.mu.Lock()
	concurrency := w.concurrency
	w.mu.Unlock()

	w.activeMu.Lock()
	ids := make([]string, 0, len(w.active))
	for id := range w.active {
		ids = append(ids, id)
	}
	w.activeMu.Unlock()
	slices.Sort(ids)

	return Status{
		ID:             w.id,
		WorkerID:       w.workerID,
		Running:        w.running.Load(),
		ActiveJobs:     ids,
		ActiveJobCount: len(ids),
		Concurrency:    concurrency,
	}
}

// loop runs claim passes until ctx is cancelled. A failed pass is logged and
// followed by a longer pause; it never ends the loop.
func (w *Worker) loop(ctx context.Context, done chan<- struct{}, concurrency int) {
	defer close(done)
	for {
		wait := pollInterval
		if err := w.claim(ctx, concurrency); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("claim pass failed", "error", err)
			wait = errorBackoff
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// claim fills free slots with newly claimed jobs and starts executing them.
func (w *Worker) claim(ctx context.Context, concurrency int) error {
	slots := concurrency - w.ActiveJobCount()
	if slots <= 0 {
		return nil
	}
	jobs, err := w.queue.Acquire(ctx, w.workerID, slots)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	w.metrics.Claimed(len(jobs))

	w.mu.Lock()
	jobCtx := w.jobCtx
	w.mu.Unlock()

	for _, j := range jobs {
		// Slot accounting happens here, not in the goroutine, so the next
		// pass sees the job as occupying a slot.
		w.track(j.ID)
		go w.process(jobCtx, j)
	}
	return nil
}

func (w *Worker) track(id string) {
	w.activeMu.Lock()
	w.active[id] = struct{}{}
	w.activeMu.Unlock()
	w.queue.Track(w.workerID, id)
	w.metrics.JobStarted()
}

// process executes j and records the outcome. The claim is always released
// and the job untracked, whatever happened.
func (w *Worker) process(ctx context.Context, j *job.Job) {
	defer func() {
		if err := w.queue.Release(ctx, j.ID, w.workerID); err != nil {
			w.log.Error("release job failed", "job_id", j.ID, "error", err)
		}
		w.activeMu.Lock()
		delete(w.active, j.ID)
		w.activeMu.Unlock()
		w.metrics.JobFinished()
	}()

	w.log.Info("executing job", "job_id", j.ID, "attempts", j.Attempts, "command", j.Command)

	if err := w.run(ctx, j); err != nil {
		w.log.Error("record job outcome failed", "job_id", j.ID, "error", err)
	}
}

func (w *Worker) run(ctx context.Context, j *job.Job) error {
	output, execErr := w.exec(ctx, j.Command)
	if execErr != nil {
		return w.handleFailure(ctx, j, execErr)
	}

	if _, err := w.queue.Store().SetOutput(ctx, j.ID, output); err != nil {
		return err
	}
	if _, err := w.queue.Store().UpdateJobState(ctx, j.ID, job.StateCompleted, nil); err != nil {
		return err
	}
	w.metrics.Completed()
	w.log.Info("job completed", "job_id", j.ID)
	return nil
}

// handleFailure counts the failed attempt, then either reschedules the job
// after base^attempts seconds or moves it to the dead letter queue.
func (w *Worker) handleFailure(ctx context.Context, j *job.Job, execErr error) error {
	cause := execErr.Error()
	exitCode := -1
	var ee *ExecError
	if errors.As(execErr, &ee) {
		exitCode = ee.ExitCode
	}
	st := w.queue.Store()

	updated, err := st.IncrementAttempts(ctx, j.ID)
	if err != nil {
		return err
	}

	if updated.Exhausted() {
		if _, err := st.UpdateJobState(ctx, j.ID, job.StateDead, &cause); err != nil {
			return err
		}
		w.metrics.Failed(metrics.OutcomeDead)
		w.log.Warn("job moved to dead letter queue",
			"job_id", j.ID, "attempts", updated.Attempts, "exit_code", exitCode, "error", cause)
		return nil
	}

	w.mu.Lock()
	base := w.base
	w.mu.Unlock()
	delay := backoff.Exponential(base, updated.Attempts)

	if _, err := st.SetRunAfter(ctx, j.ID, time.Now().Add(delay)); err != nil {
		return err
	}
	if _, err := st.UpdateJobState(ctx, j.ID, job.StatePending, &cause); err != nil {
		return err
	}
	w.metrics.Failed(metrics.OutcomeRetry)
	w.log.Warn("job failed, retry scheduled",
		"job_id", j.ID, "attempts", updated.Attempts, "max_retries", updated.MaxRetries,
		"retry_in", delay, "exit_code", exitCode, "error", cause)
	return nil
}
