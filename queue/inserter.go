package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/deferred/job"
)

// Inserter drives a Backend with adaptive split-and-retry semantics.
type Inserter struct {
	backend Backend
	logger  *slog.Logger
	metrics *Metrics
}

// InserterOption configures an Inserter.
type InserterOption func(*Inserter)

// WithMetrics attaches insertion counters to the Inserter.
func WithMetrics(m *Metrics) InserterOption {
	return func(in *Inserter) {
		in.metrics = m
	}
}

// NewInserter creates an Inserter around the given backend.
func NewInserter(backend Backend, logger *slog.Logger, opts ...InserterOption) *Inserter {
	if logger == nil {
		logger = slog.Default()
	}
	in := &Inserter{
		backend: backend,
		logger:  logger.With("component", "task_inserter"),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// InsertTasks attempts every task at least once and never returns the
// backend's transient-failure signal.
//
// An empty batch makes no backend call. Otherwise the full list is attempted
// in one call; on a transient failure a batch of more than one task is split
// in half (first half rounded up) and each half retried independently. A
// single task that fails transiently is terminal at that depth: it is
// dropped from further automated attempts, which bounds the worst case to
// O(n) backend calls under sustained failure. Callers who need stronger
// durability layer their own retry outside this engine.
//
// Non-transient backend errors propagate to the caller wrapped.
func (in *Inserter) InsertTasks(ctx context.Context, tasks []*job.Task, queueName string, transactional bool) error {
	if len(tasks) == 0 {
		return nil
	}

	in.metrics.observeAttempt(queueName)
	err := in.backend.Insert(ctx, tasks, queueName, transactional)
	if err == nil {
		return nil
	}
	if !IsTransient(err) {
		return fmt.Errorf("failed to insert %d task(s) into queue %q: %w", len(tasks), queueName, err)
	}

	if len(tasks) == 1 {
		// Terminal for this task: log, count, and move on.
		in.metrics.observeDropped(queueName)
		in.logger.Error("dropping task after transient failure",
			"queue", queueName,
			"url", tasks[0].URL,
			"error", err)
		return nil
	}

	in.metrics.observeSplit(queueName)
	in.logger.Warn("splitting batch after transient failure",
		"queue", queueName,
		"batch_size", len(tasks),
		"error", err)

	half := (len(tasks) + 1) / 2
	if err := in.InsertTasks(ctx, tasks[:half], queueName, transactional); err != nil {
		return err
	}
	return in.InsertTasks(ctx, tasks[half:], queueName, transactional)
}
