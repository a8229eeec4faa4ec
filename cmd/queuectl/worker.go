package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/scarson/queuectl/internal/api"
	"github.com/scarson/queuectl/internal/metrics"
	"github.com/scarson/queuectl/internal/worker"
)

func workerCmd() *cobra.Command {
	var pidFile string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run or stop a worker pool",
	}
	cmd.PersistentFlags().StringVar(&pidFile, "pid-file",
		filepath.Join(os.TempDir(), "queuectl-worker.pid"),
		"file recording the pid of the running pool")
	cmd.AddCommand(workerStartCmd(&pidFile), workerStopCmd(&pidFile))
	return cmd
}

// ── worker start ──────────────────────────────────────────────────────────────

func workerStartCmd(pidFile *string) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a worker pool and run until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if !cmd.Flags().Changed("count") {
				cfg, err := a.store.LoadSettings(ctx)
				if err != nil {
					return err
				}
				count = cfg.WorkerCount
			}
			if count < 1 {
				return fmt.Errorf("--count must be a positive number, got %d", count)
			}

			if err := writePIDFile(*pidFile); err != nil {
				return err
			}
			defer removePIDFile(*pidFile)

			mgr := worker.NewManager(a.store, slog.Default(), metrics.New(prometheus.DefaultRegisterer))
			if err := mgr.StartWorkers(ctx, count); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %d worker(s), pid %d. Press Ctrl+C to stop.\n", count, os.Getpid())

			// ── Optional status surface ───────────────────────────────────────
			var (
				srv       *http.Server
				serverErr chan error // nil (blocks forever) when disabled
			)
			if a.cfg.StatusAddr != "" {
				apiSrv := api.NewServer(a.store, mgr, api.Options{
					Gatherer:          prometheus.DefaultGatherer,
					RateLimitPerMin:   a.cfg.RateLimitPerMin,
					RateLimitEvictTTL: a.cfg.RateLimitEvictTTL,
				})
				defer apiSrv.Close()

				srv = &http.Server{ //nolint:exhaustruct // WriteTimeout left to defaults; responses are small
					Addr:              a.cfg.StatusAddr,
					Handler:           apiSrv.Handler(),
					ReadHeaderTimeout: 5 * time.Second,
					ReadTimeout:       15 * time.Second,
					IdleTimeout:       120 * time.Second,
				}
				serverErr = make(chan error, 1)
				go func() {
					slog.Info("status server started", "addr", a.cfg.StatusAddr)
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						serverErr <- err
					}
					close(serverErr)
				}()
			}

			var runErr error
			select {
			case err := <-serverErr:
				runErr = fmt.Errorf("status server: %w", err)
			case <-ctx.Done():
				stop() // release signal notification; a second Ctrl+C kills the process
			}

			slog.Info("shutting down", "timeout", a.cfg.ShutdownTimeout(), "active_jobs", mgr.TotalActiveJobs())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
			defer cancel()

			if err := mgr.StopWorkers(shutdownCtx); err != nil {
				runErr = errors.Join(runErr, fmt.Errorf("stop workers: %w", err))
			}
			if srv != nil {
				if err := srv.Shutdown(shutdownCtx); err != nil {
					runErr = errors.Join(runErr, fmt.Errorf("status server shutdown: %w", err))
				}
			}
			if runErr == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "All workers stopped")
			}
			return runErr
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 1, "number of workers (default: the worker_count setting)")
	return cmd
}

// ── worker stop ───────────────────────────────────────────────────────────────

func workerStopCmd(pidFile *string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop the pool started by `worker start`",
		Long: "Sends SIGTERM to the pool recorded in --pid-file and waits for it to " +
			"finish its in-flight jobs and exit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pid, err := readPIDFile(*pidFile)
			if errors.Is(err, os.ErrNotExist) || (err == nil && !processAlive(pid)) {
				fmt.Fprintln(cmd.OutOrStdout(), "No running worker pool")
				return nil
			}
			if err != nil {
				return err
			}

			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal pid %d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopping worker pool (pid %d)...\n", pid)

			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			deadline := time.NewTimer(timeout)
			defer deadline.Stop()
			for processAlive(pid) {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-deadline.C:
					return fmt.Errorf("worker pool (pid %d) still running after %v", pid, timeout)
				case <-ticker.C:
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Worker pool stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 90*time.Second, "how long to wait for the pool to exit")
	return cmd
}

// ── pid file ──────────────────────────────────────────────────────────────────

// writePIDFile records this process in path, refusing if another live pool
// already owns it.
func writePIDFile(path string) error {
	if pid, err := readPIDFile(path); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("worker pool already running (pid %d, %s)", pid, path)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func readPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid contents %q", path, strings.TrimSpace(string(b)))
	}
	return pid, nil
}

// removePIDFile deletes path only if it still names this process.
func removePIDFile(path string) {
	if pid, err := readPIDFile(path); err == nil && pid == os.Getpid() {
		if err := os.Remove(path); err != nil {
			slog.Warn("remove pid file", "path", path, "error", err)
		}
	}
}

// processAlive reports whether pid names a running process. EPERM means the
// process exists but belongs to someone else.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
