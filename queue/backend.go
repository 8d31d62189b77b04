package queue

import (
	"context"
	"errors"

	"github.com/phrazzld/deferred/job"
)

// ErrTransient is the backend failure signal meaning "retry may succeed".
// Backends wrap it (errors.Is) when an insertion failed for a reason that a
// retry, possibly with a smaller batch, could resolve. It is the one failure
// mode the Inserter exists to absorb; it never surfaces past InsertTasks.
var ErrTransient = errors.New("transient backend failure")

// Backend accepts ordered batches of wire tasks for one queue. A backend may
// enforce its own maximum batch size; signalling ErrTransient makes the
// Inserter split and retry, which naturally respects such a limit.
type Backend interface {
	// Insert enqueues tasks on the named queue, preserving their order.
	// The transactional flag is passed through from the caller untouched.
	Insert(ctx context.Context, tasks []*job.Task, queueName string, transactional bool) error
}

// IsTransient reports whether err carries the transient-failure signal.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
