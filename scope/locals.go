package scope

import (
	"log/slog"
	"sync"

	"github.com/phrazzld/deferred/job"
)

// Locals holds the per-request state for all in-flight logical requests,
// keyed by an opaque request identifier supplied by the process environment.
// Requests are created lazily on first access and torn down explicitly with
// Release; there is no ambient thread-local magic.
type Locals struct {
	mu       sync.Mutex
	requests map[string]*Request
	logger   *slog.Logger
}

// NewLocals creates an empty request-state registry.
func NewLocals(logger *slog.Logger) *Locals {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locals{
		requests: make(map[string]*Request),
		logger:   logger.With("component", "scope_locals"),
	}
}

// For returns the Request for the given identifier, creating a fresh one on
// first access. A new identifier always observes pristine state.
func (l *Locals) For(requestID string) *Request {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		req = &Request{id: requestID, logger: l.logger.With("request_id", requestID)}
		l.requests[requestID] = req
		l.logger.Debug("created request state", "request_id", requestID)
	}
	return req
}

// Live returns the request states currently held, in no particular order.
func (l *Locals) Live() []*Request {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Request, 0, len(l.requests))
	for _, req := range l.requests {
		out = append(out, req)
	}
	return out
}

// Release discards all state for the given request identifier. It is called
// at the end of the request lifecycle; a later For with the same identifier
// starts fresh.
func (l *Locals) Release(requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.requests[requestID]; ok {
		delete(l.requests, requestID)
		l.logger.Debug("released request state", "request_id", requestID)
	}
}

// Request is the state of one logical request. A request is served by a
// single logical thread of control, so Request methods are not safe for
// concurrent use; isolation between requests comes from Locals keying.
//
// The executing stack and the batch registry are mutated only by the
// execution enter/exit and batch add/flush operations. No other code path
// may splice them; the corruption check in Execution.Exit defends exactly
// this property.
type Request struct {
	id       string
	logger   *slog.Logger
	registry []*Batch
	// executing is the stack of jobs currently executing; the last element
	// is the top.
	executing []*job.Job
	root      *Execution
}

// ID returns the request identifier this state is keyed by.
func (r *Request) ID() string {
	return r.id
}

// Registry returns the batches opened during this request, in creation
// order. The returned slice is a copy.
func (r *Request) Registry() []*Batch {
	out := make([]*Batch, len(r.registry))
	copy(out, r.registry)
	return out
}

// Executing returns the stack of currently executing jobs, bottom first.
// The returned slice is a copy.
func (r *Request) Executing() []*job.Job {
	out := make([]*job.Job, len(r.executing))
	copy(out, r.executing)
	return out
}

// CurrentJob returns the job on top of the executing stack, or nil when
// nothing is executing. Jobs constructed while another job executes can be
// attributed to it through this.
func (r *Request) CurrentJob() *job.Job {
	if len(r.executing) == 0 {
		return nil
	}
	return r.executing[len(r.executing)-1]
}
