package scope

import (
	"github.com/phrazzld/deferred/job"
)

// Execution marks one job as currently executing on its request's stack.
// It wraps exactly one job; the association is fixed at construction.
type Execution struct {
	req *Request
	job *job.Job
}

// NewExecution creates an execution context for the given job. The job must
// be non-nil; the wrapped job is readable through Job and can never be
// reassigned.
func NewExecution(req *Request, j *job.Job) (*Execution, error) {
	if j == nil {
		return nil, ErrNilJob
	}
	return &Execution{req: req, job: j}, nil
}

// Job returns the job this execution context wraps.
func (e *Execution) Job() *job.Job {
	return e.job
}

// Enter pushes the wrapped job onto the request's executing stack.
func (e *Execution) Enter() {
	e.req.executing = append(e.req.executing, e.job)
}

// Exit pops the wrapped job off the executing stack after verifying it is
// still on top. A mismatch means the stack was spliced outside the
// enter/exit discipline and yields a *CorruptContextError carrying cause,
// the failure (if any) that was unwinding the scope.
func (e *Execution) Exit(cause error) error {
	stack := e.req.executing
	if len(stack) == 0 || stack[len(stack)-1] != e.job {
		return &CorruptContextError{Cause: cause}
	}
	e.req.executing = stack[:len(stack)-1]
	return nil
}

// WithExecution runs fn with j marked as the currently executing job,
// popping it again on every return path. The error from fn propagates
// unchanged unless exiting detects stack corruption, in which case the
// corruption error (carrying fn's error as its cause) wins.
func (r *Request) WithExecution(j *job.Job, fn func() error) error {
	e, err := NewExecution(r, j)
	if err != nil {
		return err
	}

	e.Enter()
	fnErr := fn()
	if exitErr := e.Exit(fnErr); exitErr != nil {
		return exitErr
	}
	return fnErr
}

// RootExecution establishes the single top-level execution context for this
// request, the one the request's dispatched job executes under. At most one
// may exist: a second call fails with ErrContextExists no matter which job
// is passed. The returned context is not yet entered.
func (r *Request) RootExecution(j *job.Job) (*Execution, error) {
	if j == nil {
		return nil, ErrNilJob
	}
	if r.root != nil {
		return nil, ErrContextExists
	}

	e, err := NewExecution(r, j)
	if err != nil {
		return nil, err
	}
	r.root = e
	return e, nil
}

// Root returns the request's root execution context, or nil when none has
// been established.
func (r *Request) Root() *Execution {
	return r.root
}
