package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/deferred/job"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// stubBackend records insertion calls and fails every one of them with err
// when set.
type stubBackend struct {
	calls []backendCall
	err   error
}

type backendCall struct {
	tasks         []*job.Task
	queueName     string
	transactional bool
}

func (b *stubBackend) Insert(ctx context.Context, tasks []*job.Task, queueName string, transactional bool) error {
	b.calls = append(b.calls, backendCall{tasks: tasks, queueName: queueName, transactional: transactional})
	return b.err
}

func makeTasks(t *testing.T, n int) []*job.Task {
	t.Helper()
	tasks := make([]*job.Task, n)
	for i := range tasks {
		j := job.MustNew(job.Options{"job": fmt.Sprintf("test.func%d", i)})
		task, err := j.ToTask()
		require.NoError(t, err)
		tasks[i] = task
	}
	return tasks
}

func TestInsertTasksEmptyMakesNoCalls(t *testing.T) {
	backend := &stubBackend{}
	in := NewInserter(backend, setupTestLogger())

	err := in.InsertTasks(context.Background(), nil, "A", false)

	require.NoError(t, err)
	assert.Empty(t, backend.calls)
}

func TestInsertTasksQueueNameHonored(t *testing.T) {
	backend := &stubBackend{}
	in := NewInserter(backend, setupTestLogger())

	err := in.InsertTasks(context.Background(), makeTasks(t, 1), "AbCd", false)

	require.NoError(t, err)
	require.Len(t, backend.calls, 1)
	assert.Equal(t, "AbCd", backend.calls[0].queueName)
}

func TestInsertTasksPassedAlongInOrder(t *testing.T) {
	backend := &stubBackend{}
	in := NewInserter(backend, setupTestLogger())
	tasks := makeTasks(t, 4)

	err := in.InsertTasks(context.Background(), tasks, "AbCd", false)

	require.NoError(t, err)
	require.Len(t, backend.calls, 1)
	assert.Equal(t, tasks, backend.calls[0].tasks)
	assert.False(t, backend.calls[0].transactional)
}

func TestInsertTasksTransactionalPassesThrough(t *testing.T) {
	backend := &stubBackend{err: fmt.Errorf("busy: %w", ErrTransient)}
	in := NewInserter(backend, setupTestLogger())

	err := in.InsertTasks(context.Background(), makeTasks(t, 2), "A", true)

	require.NoError(t, err)
	for _, call := range backend.calls {
		assert.True(t, call.transactional, "transactional passes through unchanged on every call")
	}
}

func TestInsertTasksAbsorbsTransientFailure(t *testing.T) {
	backend := &stubBackend{err: fmt.Errorf("busy: %w", ErrTransient)}
	in := NewInserter(backend, setupTestLogger())

	err := in.InsertTasks(context.Background(), makeTasks(t, 1), "AbCd", false)

	require.NoError(t, err, "the transient signal never reaches the caller")
	assert.Len(t, backend.calls, 1)
}

func TestInsertTasksSplitCallCounts(t *testing.T) {
	// The deterministic call-count shape under a persistently failing
	// backend: each batch is attempted once, then split in half until
	// single tasks fail terminally.
	cases := []struct {
		size  int
		calls int
	}{
		{0, 0},
		{1, 1},
		{2, 3},
		{3, 5},
		{4, 7},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("size_%d", tc.size), func(t *testing.T) {
			backend := &stubBackend{err: fmt.Errorf("busy: %w", ErrTransient)}
			in := NewInserter(backend, setupTestLogger())

			err := in.InsertTasks(context.Background(), makeTasks(t, tc.size), "AbCd", false)

			require.NoError(t, err)
			assert.Equal(t, tc.calls, len(backend.calls))
		})
	}
}

func TestInsertTasksSplitShape(t *testing.T) {
	backend := &stubBackend{err: fmt.Errorf("busy: %w", ErrTransient)}
	in := NewInserter(backend, setupTestLogger())
	tasks := makeTasks(t, 3)

	err := in.InsertTasks(context.Background(), tasks, "A", false)
	require.NoError(t, err)

	// Full batch, then the ceil half, then its halves, then the floor half.
	require.Len(t, backend.calls, 5)
	assert.Len(t, backend.calls[0].tasks, 3)
	assert.Len(t, backend.calls[1].tasks, 2)
	assert.Len(t, backend.calls[2].tasks, 1)
	assert.Len(t, backend.calls[3].tasks, 1)
	assert.Len(t, backend.calls[4].tasks, 1)

	// Every original task was attempted individually.
	assert.Same(t, tasks[0], backend.calls[2].tasks[0])
	assert.Same(t, tasks[1], backend.calls[3].tasks[0])
	assert.Same(t, tasks[2], backend.calls[4].tasks[0])
}

func TestInsertTasksNonTransientPropagates(t *testing.T) {
	boom := errors.New("schema mismatch")
	backend := &stubBackend{err: boom}
	in := NewInserter(backend, setupTestLogger())

	err := in.InsertTasks(context.Background(), makeTasks(t, 3), "A", false)

	require.ErrorIs(t, err, boom)
	assert.Len(t, backend.calls, 1, "non-transient failures are not retried")
}

func TestInsertTasksMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	backend := &stubBackend{err: fmt.Errorf("busy: %w", ErrTransient)}
	in := NewInserter(backend, setupTestLogger(), WithMetrics(metrics))

	err := in.InsertTasks(context.Background(), makeTasks(t, 3), "A", false)
	require.NoError(t, err)

	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.attempts.WithLabelValues("A")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.splits.WithLabelValues("A")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.dropped.WithLabelValues("A")))
}
