// Package job defines the persisted job record, its lifecycle states, and the
// error taxonomy shared by the store, the queue and the CLI.
//
// A Job value is a snapshot of one row in the jobs table. Store operations
// never mutate a Job in place; each returns a fresh value read back from the
// database.
package job

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxRetries is used when neither the submitter nor the max_retries
// setting provides a ceiling.
const DefaultMaxRetries = 3

// ClaimLease is how long a claim stays exclusive before it can be swept or
// re-claimed by another worker.
const ClaimLease = 5 * time.Minute

// State is the lifecycle state of a job.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateDead       State = "dead"
)

// States lists every recognised state in display order.
var States = []State{StatePending, StateProcessing, StateCompleted, StateFailed, StateDead}

// ParseState returns the State named by s or an error listing the valid names.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	names := make([]string, len(States))
	for i, st := range States {
		names[i] = string(st)
	}
	return "", fmt.Errorf("invalid state %q: must be one of %s", s, strings.Join(names, ", "))
}

var (
	// ErrDuplicateJob is returned when a job id already exists.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrJobNotFound is returned for lookups and transitions on unknown ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidStateTransition is returned when a DLQ retry targets a job
	// that is not dead.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrInvalidJob is returned by New for submissions missing required fields.
	ErrInvalidJob = errors.New("invalid job")
)

// Job is one persisted unit of work. Nullable columns are pointers.
type Job struct {
	ID           string     `json:"id"`
	Command      string     `json:"command"`
	State        State      `json:"state"`
	Attempts     int        `json:"attempts"`
	MaxRetries   int        `json:"max_retries"`
	RunAfter     time.Time  `json:"run_after"`
	LockedBy     *string    `json:"locked_by"`
	LockedAt     *time.Time `json:"locked_at"`
	ErrorMessage *string    `json:"error_message"`
	Output       *string    `json:"output"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// Submission is the caller-facing shape accepted by enqueue.
type Submission struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	MaxRetries *int   `json:"max_retries,omitempty"`
}

// New validates a submission and returns the pending Job it describes.
// defaultMaxRetries applies when the submission leaves max_retries unset.
// Timestamps are left zero; the store assigns them.
func New(sub Submission, defaultMaxRetries int) (*Job, error) {
	if strings.TrimSpace(sub.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidJob)
	}
	if strings.TrimSpace(sub.Command) == "" {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidJob)
	}
	maxRetries := defaultMaxRetries
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	if sub.MaxRetries != nil {
		if *sub.MaxRetries < 1 {
			return nil, fmt.Errorf("%w: max_retries must be >= 1, got %d", ErrInvalidJob, *sub.MaxRetries)
		}
		maxRetries = *sub.MaxRetries
	}
	return &Job{
		ID:         sub.ID,
		Command:    sub.Command,
		State:      StatePending,
		MaxRetries: maxRetries,
	}, nil
}

// Exhausted reports whether the job has used up its retry budget.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxRetries
}
