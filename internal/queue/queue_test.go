package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/queuectl/internal/job"
	"github.com/scarson/queuectl/internal/queue"
	"github.com/scarson/queuectl/internal/testutil"
)

func TestTracking(t *testing.T) {
	q := queue.New(nil, nil)

	q.Track("w1", "a")
	q.Track("w1", "b")
	q.Track("w2", "c")
	assert.Equal(t, []string{"a", "b"}, q.ActiveJobs("w1"))
	assert.Equal(t, 3, q.ActiveJobsCount())

	got := q.ActiveJobs("w1")
	got[0] = "mutated"
	assert.Equal(t, "a", q.ActiveJobs("w1")[0], "ActiveJobs must return a copy")
	assert.Empty(t, q.ActiveJobs("nobody"))
}

func TestEnqueue_UsesMaxRetriesSetting(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	q := queue.New(db.Store, nil)

	_, err := db.SetSetting(ctx, "max_retries", "5")
	require.NoError(t, err)

	j, err := q.Enqueue(ctx, job.Submission{ID: "a", Command: "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, 5, j.MaxRetries)

	explicit := 2
	j, err = q.Enqueue(ctx, job.Submission{ID: "b", Command: "echo hi", MaxRetries: &explicit})
	require.NoError(t, err)
	assert.Equal(t, 2, j.MaxRetries)

	_, err = q.Enqueue(ctx, job.Submission{ID: "a", Command: "echo again"})
	assert.True(t, errors.Is(err, job.ErrDuplicateJob), "err = %v", err)

	_, err = q.Enqueue(ctx, job.Submission{ID: "c"})
	assert.True(t, errors.Is(err, job.ErrInvalidJob), "err = %v", err)
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	q := queue.New(db.Store, nil)

	_, err := q.Enqueue(ctx, job.Submission{ID: "a", Command: "true"})
	require.NoError(t, err)

	jobs, err := q.Acquire(ctx, "w1", 2)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	q.Track("w1", "a")
	assert.Equal(t, 1, q.ActiveJobsCount())

	require.NoError(t, q.Release(ctx, "a", "w1"))
	assert.Zero(t, q.ActiveJobsCount())
	// Releasing twice is not an error.
	require.NoError(t, q.Release(ctx, "a", "w1"))

	got, err := db.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got.LockedBy)
	assert.Nil(t, got.LockedAt)
}

func TestRelease_UnknownJobStillUntracks(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	q := queue.New(db.Store, nil)

	q.Track("w1", "ghost")
	err := q.Release(context.Background(), "ghost", "w1")
	assert.True(t, errors.Is(err, job.ErrJobNotFound), "err = %v", err)
	assert.Zero(t, q.ActiveJobsCount())
}

func TestDeadLetterAndRetry(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	q := queue.New(db.Store, nil)

	_, err := q.Enqueue(ctx, job.Submission{ID: "d", Command: "false"})
	require.NoError(t, err)
	_, err = db.UpdateJobState(ctx, "d", job.StateDead, nil)
	require.NoError(t, err)

	dead, err := q.DeadLetterJobs(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "d", dead[0].ID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[job.StateDead])

	j, err := q.RetryDead(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, j.State)

	_, err = q.RetryDead(ctx, "d")
	assert.True(t, errors.Is(err, job.ErrInvalidStateTransition), "err = %v", err)
}
