package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scarson/queuectl/internal/job"
	"github.com/scarson/queuectl/internal/metrics"
	"github.com/scarson/queuectl/internal/queue"
	"github.com/scarson/queuectl/internal/store"
)

// sweepInterval is how often the manager returns expired claims to pending.
const sweepInterval = 30 * time.Second

// Manager owns a pool of workers sharing one Queue, plus a stale-claim
// sweeper that runs while the pool is up.
type Manager struct {
	queue    *queue.Queue
	metrics  *metrics.Metrics
	log      *slog.Logger
	opts     []Option
	instance string

	lifecycle sync.Mutex // serializes StartWorkers and StopWorkers

	mu          sync.RWMutex
	workers     []*Worker
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewManager creates a Manager backed by s. A nil log uses slog.Default();
// a nil m records no metrics. opts are applied to every worker it starts.
func NewManager(s *store.Store, log *slog.Logger, m *metrics.Metrics, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		queue:    queue.New(s, log),
		metrics:  m,
		log:      log,
		opts:     append([]Option{WithLogger(log), WithMetrics(m)}, opts...),
		instance: uuid.New().String()[:8],
	}
}

// Queue returns the manager's queue.
func (m *Manager) Queue() *queue.Queue { return m.queue }

// workerID builds a locked_by identity that is unique per process and per
// manager, so two managers on one host never share claims.
func (m *Manager) workerID(n int) string {
	return fmt.Sprintf("worker-%d-%d-%s", n, os.Getpid(), m.instance)
}

// StartWorkers replaces the pool with n freshly started workers numbered 1..n.
// Any existing workers are stopped first. If a worker fails to start, the ones
// already running are stopped and the error is returned.
func (m *Manager) StartWorkers(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("start workers: count must be at least 1, got %d", n)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.stopAll(ctx); err != nil {
		return fmt.Errorf("start workers: stop existing pool: %w", err)
	}

	workers := make([]*Worker, n)
	for i := range workers {
		workers[i] = New(i+1, m.workerID(i+1), m.queue, m.opts...)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error { return w.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		for _, w := range workers {
			if stopErr := w.Stop(ctx); stopErr != nil {
				m.log.Error("stop worker after failed start", "worker", w.ID(), "error", stopErr)
			}
		}
		return err
	}

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go m.runSweeper(sweepCtx, done)

	m.mu.Lock()
	m.workers = workers
	m.sweepCancel = cancel
	m.sweepDone = done
	m.mu.Unlock()

	m.log.Info("workers started", "count", n, "concurrency_per_worker", workers[0].Status().Concurrency)
	return nil
}

// StopWorkers gracefully stops every worker concurrently and empties the
// pool. It returns once all in-flight jobs have been released, or with
// ctx.Err() if ctx ends first.
func (m *Manager) StopWorkers(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.stopAll(ctx)
}

func (m *Manager) stopAll(ctx context.Context) error {
	m.mu.Lock()
	workers := m.workers
	cancel, done := m.sweepCancel, m.sweepDone
	m.workers = nil
	m.sweepCancel, m.sweepDone = nil, nil
	m.mu.Unlock()

	if len(workers) == 0 {
		return nil
	}

	if cancel != nil {
		cancel()
		<-done
	}

	m.log.Info("stopping workers", "count", len(workers), "active_jobs", m.queue.ActiveJobsCount())

	var g errgroup.Group
	for _, w := range workers {
		w := w
		g.Go(func() error { return w.Stop(ctx) })
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			m.log.Warn("workers did not drain before shutdown deadline",
				"active_jobs", m.queue.ActiveJobsCount())
		}
		return err
	}

	m.log.Info("all workers stopped")
	return nil
}

// runSweeper returns expired claims to pending once at start and then every
// sweepInterval. Uses time.NewTicker (not time.After) to avoid timer leaks.
func (m *Manager) runSweeper(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		ids, err := m.queue.SweepStaleClaims(ctx, job.ClaimLease)
		switch {
		case err != nil && ctx.Err() == nil:
			m.log.Error("stale claim sweep failed", "error", err)
		case err == nil:
			m.metrics.Recovered(len(ids))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Status returns one snapshot per worker, ordered by worker id. The result is
// empty when no workers are running.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.Status())
	}
	return out
}

// TotalActiveJobs returns the number of jobs executing across the pool.
func (m *Manager) TotalActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, w := range m.workers {
		total += w.ActiveJobCount()
	}
	return total
}

// TotalConcurrency returns the number of execution slots across the pool.
func (m *Manager) TotalConcurrency() int {
	total := 0
	for _, st := range m.Status() {
		total += st.Concurrency
	}
	return total
}
