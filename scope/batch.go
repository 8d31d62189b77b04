package scope

import (
	"context"
	"fmt"

	"github.com/phrazzld/deferred/job"
)

// TaskInserter accepts an ordered list of wire tasks destined for one queue.
// The insertion engine in package queue implements it.
type TaskInserter interface {
	InsertTasks(ctx context.Context, tasks []*job.Task, queueName string, transactional bool) error
}

// pendingJob is one job added to a batch, tagged with its resolved queue.
type pendingJob struct {
	queue string
	job   *job.Job
}

// Batch collects jobs added during one scope and flushes them together on
// clean scope exit, one inserter call per distinct destination queue. A
// batch that is never run as a scope, or whose scope exits with an error,
// inserts nothing.
type Batch struct {
	req     *Request
	ins     TaskInserter
	pending []pendingJob
	flushed bool
}

// NewBatch creates a batch bound to this request and records it in the
// request's registry. Most callers use WithBatch instead, which also runs
// the scope body and flushes.
func (r *Request) NewBatch(ins TaskInserter) *Batch {
	b := &Batch{req: r, ins: ins}
	r.registry = append(r.registry, b)
	return b
}

// Add builds a job for the given function call and delivery options, tags it
// with its resolved destination queue, and appends it to the batch. The job
// is returned so the caller can inspect or adjust it before the flush.
//
// Nil args and kwargs mean "called with no arguments"; extra carries any
// further options such as "queue", "headers", or "task_args".
func (b *Batch) Add(function string, args []any, kwargs map[string]any, extra job.Options) (*job.Job, error) {
	if function == "" {
		return nil, job.ErrNoFunction
	}

	j, err := job.New(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to build job for %q: %w", function, err)
	}
	if err := j.SetJob(function, args, kwargs); err != nil {
		return nil, err
	}

	b.pending = append(b.pending, pendingJob{queue: j.Queue(), job: j})
	return j, nil
}

// Len returns the number of jobs pending in the batch.
func (b *Batch) Len() int {
	return len(b.pending)
}

// flush partitions the pending jobs by destination queue, preserving
// insertion order within each queue and first-touched order across queues,
// and hands each partition to the inserter in a single call.
func (b *Batch) flush(ctx context.Context) error {
	if b.flushed {
		return nil
	}
	b.flushed = true

	var queues []string
	byQueue := make(map[string][]*job.Task)
	for _, p := range b.pending {
		task, err := p.job.ToTask()
		if err != nil {
			return fmt.Errorf("failed to convert job for queue %q: %w", p.queue, err)
		}
		if _, seen := byQueue[p.queue]; !seen {
			queues = append(queues, p.queue)
		}
		byQueue[p.queue] = append(byQueue[p.queue], task)
	}

	for _, queueName := range queues {
		if err := b.ins.InsertTasks(ctx, byQueue[queueName], queueName, false); err != nil {
			return err
		}
	}
	return nil
}

// WithBatch opens a batch on the request, runs fn with it, and flushes the
// collected jobs only when fn returns nil. An error from fn suppresses the
// flush entirely, nothing is enqueued, and the error propagates unchanged.
// A panic in fn likewise propagates without flushing.
//
// Nested WithBatch calls are independent: each inner batch flushes on its
// own clean exit regardless of what the outer scope later does.
func WithBatch(ctx context.Context, r *Request, ins TaskInserter, fn func(*Batch) error) error {
	b := r.NewBatch(ins)
	if err := fn(b); err != nil {
		return err
	}
	return b.flush(ctx)
}
