package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scarson/queuectl/internal/job"
	"github.com/scarson/queuectl/internal/queue"
)

// ── enqueue ───────────────────────────────────────────────────────────────────

func enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "enqueue <job-json>",
		Short:   "Add a new job to the queue",
		Example: `  queuectl enqueue '{"id":"job1","command":"sleep 2","max_retries":5}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := parseSubmission(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			j, err := queue.New(a.store, nil).Enqueue(cmd.Context(), sub)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s enqueued\n", j.ID)
			return writeJSON(out, j)
		},
	}
}

// parseSubmission decodes the enqueue argument. Unknown fields are rejected
// so a typo such as "max_retry" is not silently ignored.
func parseSubmission(raw string) (job.Submission, error) {
	var sub job.Submission
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		return job.Submission{}, fmt.Errorf("parse job json: %w", err)
	}
	if sub.ID == "" || sub.Command == "" {
		return job.Submission{}, fmt.Errorf(`%w: job must have "id" and "command" fields`, job.ErrInvalidJob)
	}
	return sub, nil
}

// ── status ────────────────────────────────────────────────────────────────────

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts by state and the workers holding claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			counts, err := a.store.CountJobsByState(ctx)
			if err != nil {
				return err
			}
			processing, err := a.store.ListJobsByState(ctx, job.StateProcessing, 0)
			if err != nil {
				return err
			}
			cfg, err := a.store.LoadSettings(ctx)
			if err != nil {
				return err
			}
			writeStatus(cmd.OutOrStdout(), counts, processing, cfg.ConcurrencyPerWorker)
			return nil
		},
	}
}

// writeStatus renders queue totals and, since workers may live in other
// processes, the claims currently held per worker id.
func writeStatus(w io.Writer, counts map[job.State]int, processing []*job.Job, concurrencyPerWorker int) {
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Fprintln(w, "=== Queue Status ===")
	fmt.Fprintf(w, "Total jobs: %d\n", total)
	for _, st := range job.States {
		fmt.Fprintf(w, "  %-10s %d\n", st+":", counts[st])
	}

	byWorker := make(map[string][]string)
	for _, j := range processing {
		owner := "(unclaimed)"
		if j.LockedBy != nil {
			owner = *j.LockedBy
		}
		byWorker[owner] = append(byWorker[owner], j.ID)
	}
	owners := make([]string, 0, len(byWorker))
	for owner := range byWorker {
		owners = append(owners, owner)
	}
	slices.Sort(owners)

	fmt.Fprintln(w, "\n=== Workers ===")
	if len(owners) == 0 {
		fmt.Fprintln(w, "No workers holding claims")
		return
	}
	fmt.Fprintf(w, "Active workers: %d\n", len(owners))
	fmt.Fprintf(w, "Currently processing: %d jobs\n", len(processing))
	for _, owner := range owners {
		fmt.Fprintf(w, "  %s: %s\n", owner, strings.Join(byWorker[owner], ", "))
	}
	fmt.Fprintf(w, "Concurrency: %d total slots\n", len(owners)*concurrencyPerWorker)
}

// ── list ──────────────────────────────────────────────────────────────────────

func listCmd() *cobra.Command {
	var (
		state string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first, or oldest first when filtered by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st job.State
			if state != "" {
				parsed, err := job.ParseState(state)
				if err != nil {
					return err
				}
				st = parsed
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var jobs []*job.Job
			if st == "" {
				jobs, err = a.store.ListJobs(cmd.Context(), limit)
			} else {
				jobs, err = a.store.ListJobsByState(cmd.Context(), st, limit)
			}
			if err != nil {
				return err
			}
			return writeJobs(cmd.OutOrStdout(), "No jobs found", fmt.Sprintf("Found %d job(s):", len(jobs)), jobs)
		},
	}
	cmd.Flags().StringVarP(&state, "state", "s", "", "filter by state (pending, processing, completed, failed, dead)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "maximum number of jobs to list")
	return cmd
}

// ── dlq ───────────────────────────────────────────────────────────────────────

func dlqCmd() *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and retry jobs in the dead letter queue",
	}
	dlq.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List jobs in the dead letter queue",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()

				jobs, err := queue.New(a.store, nil).DeadLetterJobs(cmd.Context())
				if err != nil {
					return err
				}
				return writeJobs(cmd.OutOrStdout(), "No jobs in dead letter queue",
					fmt.Sprintf("Dead letter queue (%d jobs):", len(jobs)), jobs)
			},
		},
		&cobra.Command{
			Use:   "retry <job-id>",
			Short: "Move a dead job back to pending with a fresh retry budget",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()

				_, err = queue.New(a.store, nil).RetryDead(cmd.Context(), args[0])
				switch {
				case errors.Is(err, job.ErrJobNotFound):
					return fmt.Errorf("job %s not found", args[0])
				case errors.Is(err, job.ErrInvalidStateTransition):
					return fmt.Errorf("job %s is not in the dead letter queue: %w", args[0], err)
				case err != nil:
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s moved from dead letter queue back to pending\n", args[0])
				return nil
			},
		},
	)
	return dlq
}

// ── output ────────────────────────────────────────────────────────────────────

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJobs(w io.Writer, empty, header string, jobs []*job.Job) error {
	if len(jobs) == 0 {
		fmt.Fprintln(w, empty)
		return nil
	}
	fmt.Fprintln(w, header)
	for _, j := range jobs {
		if err := writeJSON(w, j); err != nil {
			return err
		}
		fmt.Fprintln(w, "---")
	}
	return nil
}
