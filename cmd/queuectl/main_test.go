package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/queuectl/internal/job"
	"github.com/scarson/queuectl/internal/settings"
	"github.com/scarson/queuectl/internal/testutil"
)

// run executes the CLI with args and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseSubmission(t *testing.T) {
	sub, err := parseSubmission(`{"id":"job1","command":"sleep 2","max_retries":5}`)
	require.NoError(t, err)
	assert.Equal(t, "job1", sub.ID)
	assert.Equal(t, "sleep 2", sub.Command)
	require.NotNil(t, sub.MaxRetries)
	assert.Equal(t, 5, *sub.MaxRetries)

	sub, err = parseSubmission(`{"id":"job2","command":"true"}`)
	require.NoError(t, err)
	assert.Nil(t, sub.MaxRetries)

	for _, raw := range []string{
		`not json`,
		`{"id":"x"}`,
		`{"command":"true"}`,
		`{"id":"x","command":"true","max_retry":2}`,
	} {
		_, err := parseSubmission(raw)
		assert.Error(t, err, raw)
	}
	_, err = parseSubmission(`{"id":"x"}`)
	assert.True(t, errors.Is(err, job.ErrInvalidJob))
}

func TestWriteStatus(t *testing.T) {
	w1, w2 := "worker-1-10-abc", "worker-2-10-abc"
	processing := []*job.Job{
		{ID: "b", LockedBy: &w2},
		{ID: "a", LockedBy: &w1},
		{ID: "c", LockedBy: &w1},
	}
	counts := map[job.State]int{job.StatePending: 4, job.StateProcessing: 3, job.StateDead: 1}

	var out bytes.Buffer
	writeStatus(&out, counts, processing, 3)
	s := out.String()
	assert.Contains(t, s, "Total jobs: 8")
	assert.Contains(t, s, "completed: 0")
	assert.Contains(t, s, "Active workers: 2")
	assert.Contains(t, s, w1+": a, c")
	assert.Contains(t, s, "Concurrency: 6 total slots")
	assert.Less(t, strings.Index(s, w1), strings.Index(s, w2))

	out.Reset()
	writeStatus(&out, map[job.State]int{}, nil, 3)
	assert.Contains(t, out.String(), "No workers holding claims")
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.pid")

	_, err := readPIDFile(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, writePIDFile(path))
	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, processAlive(pid))

	// Rewriting our own pid is fine.
	require.NoError(t, writePIDFile(path))

	removePIDFile(path)
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// A file naming a different live process is left alone and blocks start.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o644))
	assert.Error(t, writePIDFile(path))
	removePIDFile(path)
	_, err = os.Stat(path)
	assert.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = readPIDFile(path)
	assert.Error(t, err)
}

func TestWorkerStop_NoPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.pid")
	out, err := run(t, "worker", "stop", "--pid-file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No running worker pool")
}

func TestCLI_EndToEnd(t *testing.T) {
	db := testutil.NewTestDB(t)
	t.Setenv("DATABASE_URL", db.ConnString)
	t.Setenv("LOG_LEVEL", "error")

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema at version 1")

	out, err = run(t, "health")
	require.NoError(t, err, out)
	assert.Contains(t, out, "healthy")

	out, err = run(t, "enqueue", `{"id":"job1","command":"echo hi"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Job job1 enqueued")
	assert.Contains(t, out, `"max_retries": 3`)

	_, err = run(t, "enqueue", `{"id":"job1","command":"echo again"}`)
	assert.True(t, errors.Is(err, job.ErrDuplicateJob), "err = %v", err)

	_, err = run(t, "enqueue", `{"id":"job2"}`)
	assert.Error(t, err)

	out, err = run(t, "config", "set", "max_retries", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "max_retries = 7")
	_, err = run(t, "config", "set", "max_retries", "0")
	assert.True(t, errors.Is(err, settings.ErrInvalidValue), "err = %v", err)
	_, err = run(t, "config", "set", "colour", "blue")
	assert.True(t, errors.Is(err, settings.ErrUnknownKey), "err = %v", err)

	out, err = run(t, "config", "get", "max_retries")
	require.NoError(t, err)
	assert.Equal(t, "max_retries = 7\n", out)

	out, err = run(t, "config", "list")
	require.NoError(t, err)
	for _, key := range settings.Keys {
		assert.Contains(t, out, key)
	}

	out, err = run(t, "enqueue", `{"id":"job2","command":"false"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"max_retries": 7`)

	out, err = run(t, "list", "--state", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 job(s)")
	_, err = run(t, "list", "--state", "bogus")
	assert.Error(t, err)

	out, err = run(t, "dlq", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs in dead letter queue")

	_, err = run(t, "dlq", "retry", "job2")
	assert.True(t, errors.Is(err, job.ErrInvalidStateTransition), "err = %v", err)
	_, err = run(t, "dlq", "retry", "missing")
	assert.Error(t, err)

	_, err = db.UpdateJobState(context.Background(), "job2", job.StateDead, nil)
	require.NoError(t, err)
	out, err = run(t, "dlq", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Dead letter queue (1 jobs)")
	out, err = run(t, "dlq", "retry", "job2")
	require.NoError(t, err)
	assert.Contains(t, out, "back to pending")

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Total jobs: 2")
	assert.Contains(t, out, "pending:   2")
}

func TestCheckHealth_MissingTable(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	db.Exec(t, `DROP TABLE config`)

	var out bytes.Buffer
	err := checkHealth(context.Background(), &out, db.Store)
	assert.Error(t, err)
	assert.Contains(t, out.String(), `missing table "config"`)
}
