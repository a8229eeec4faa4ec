// ABOUTME: huma handlers for queue status, job listing, job detail, and the DLQ.
// ABOUTME: All routes are read-only; mutations go through the CLI.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/scarson/queuectl/internal/job"
	"github.com/scarson/queuectl/internal/worker"
)

func registerQueueRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Queue status",
		Description: "Job counts by state plus the workers running in this process.",
		Tags:        []string{"Status"},
	}, srv.getStatusHandler)

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Description: "Newest first, or oldest first when filtered by state.",
		Tags:        []string{"Jobs"},
	}, srv.listJobsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job",
		Tags:        []string{"Jobs"},
	}, srv.getJobHandler)

	huma.Register(api, huma.Operation{
		OperationID: "list-dlq",
		Method:      http.MethodGet,
		Path:        "/dlq",
		Summary:     "List dead letter queue",
		Description: "Every dead job, oldest first.",
		Tags:        []string{"Jobs"},
	}, srv.listDLQHandler)
}

// ── GET /status ───────────────────────────────────────────────────────────────

// StatusBody is the JSON body of the status response.
type StatusBody struct {
	Jobs        map[job.State]int `json:"jobs"`
	TotalJobs   int               `json:"total_jobs"`
	Workers     []worker.Status   `json:"workers"`
	ActiveJobs  int               `json:"active_jobs"`
	Concurrency int               `json:"concurrency"`
}

// StatusOutput is the response for GET /status.
type StatusOutput struct {
	Body *StatusBody
}

func (srv *Server) getStatusHandler(ctx context.Context, _ *struct{}) (*StatusOutput, error) {
	counts, err := srv.store.CountJobsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	body := &StatusBody{
		Jobs:    make(map[job.State]int, len(job.States)),
		Workers: []worker.Status{},
	}
	for _, st := range job.States {
		body.Jobs[st] = counts[st]
		body.TotalJobs += counts[st]
	}
	if srv.manager != nil {
		body.Workers = srv.manager.Status()
		body.ActiveJobs = srv.manager.TotalActiveJobs()
		body.Concurrency = srv.manager.TotalConcurrency()
	}
	return &StatusOutput{Body: body}, nil
}

// ── GET /jobs ─────────────────────────────────────────────────────────────────

// ListJobsInput defines query parameters for the job list.
type ListJobsInput struct {
	State string `query:"state" doc:"Filter by state: pending, processing, completed, failed, dead"`
	Limit int    `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Maximum number of jobs to return"`
}

// JobsBody wraps a list of jobs.
type JobsBody struct {
	Items []*job.Job `json:"items"`
}

// JobsOutput is the response for GET /jobs and GET /dlq.
type JobsOutput struct {
	Body *JobsBody
}

func (srv *Server) listJobsHandler(ctx context.Context, input *ListJobsInput) (*JobsOutput, error) {
	var (
		jobs []*job.Job
		err  error
	)
	if input.State == "" {
		jobs, err = srv.store.ListJobs(ctx, input.Limit)
	} else {
		state, parseErr := job.ParseState(input.State)
		if parseErr != nil {
			return nil, huma.Error422UnprocessableEntity(parseErr.Error())
		}
		jobs, err = srv.store.ListJobsByState(ctx, state, input.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobsOutput(jobs), nil
}

// ── GET /jobs/{id} ────────────────────────────────────────────────────────────

// GetJobInput defines path parameters for the single-job endpoint.
type GetJobInput struct {
	ID string `path:"id" doc:"Job id"`
}

// GetJobOutput is the response for GET /jobs/{id}.
type GetJobOutput struct {
	Body *job.Job
}

func (srv *Server) getJobHandler(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	j, err := srv.store.GetJob(ctx, input.ID)
	if errors.Is(err, job.ErrJobNotFound) {
		return nil, huma.Error404NotFound("job not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &GetJobOutput{Body: j}, nil
}

// ── GET /dlq ──────────────────────────────────────────────────────────────────

func (srv *Server) listDLQHandler(ctx context.Context, _ *struct{}) (*JobsOutput, error) {
	jobs, err := srv.store.ListJobsByState(ctx, job.StateDead, 0)
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	return jobsOutput(jobs), nil
}

func jobsOutput(jobs []*job.Job) *JobsOutput {
	if jobs == nil {
		jobs = []*job.Job{} // never return null for arrays in JSON
	}
	return &JobsOutput{Body: &JobsBody{Items: jobs}}
}
