package scope

import "errors"

// Caller-misuse errors. These are recoverable signals that an operation was
// used incorrectly, as opposed to CorruptContextError which reports a broken
// structural invariant.
var (
	// ErrContextExists is returned when a root execution context is
	// established for a request that already has one.
	ErrContextExists = errors.New("a root execution context already exists for this request")

	// ErrNilJob is returned when an execution context or batch operation
	// receives no job.
	ErrNilJob = errors.New("a job is required")
)

// CorruptContextError reports that the execution stack's LIFO invariant was
// violated: the job being exited was not on top of the stack. This is a
// structural failure, never swallowed, and always propagated to the caller
// of the offending exit.
type CorruptContextError struct {
	// Cause is the failure that was unwinding the scope when the corruption
	// was detected, or nil when the scope body completed cleanly.
	Cause error
}

func (e *CorruptContextError) Error() string {
	if e.Cause != nil {
		return "execution context stack is corrupt (while handling: " + e.Cause.Error() + ")"
	}
	return "execution context stack is corrupt"
}

// Unwrap exposes the surrounding failure, when any, to errors.Is/As.
func (e *CorruptContextError) Unwrap() error {
	return e.Cause
}
