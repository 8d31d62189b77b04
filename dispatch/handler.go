// Package dispatch serves the async endpoint: the HTTP surface that receives
// wire tasks, reconstructs their job descriptors, and runs them. Each
// delivery is one logical request with its own scope state, so jobs spawned
// while a task runs are attributed to it through the execution stack.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/phrazzld/deferred/internal/auth"
	"github.com/phrazzld/deferred/invoke"
	"github.com/phrazzld/deferred/job"
	"github.com/phrazzld/deferred/scope"
)

// maxPayloadBytes bounds how much task payload a single delivery may carry.
const maxPayloadBytes = 1 << 20

// Handler executes dispatched tasks.
type Handler struct {
	locals    *scope.Locals
	registry  *invoke.Registry
	logger    *slog.Logger
	verifyKey []byte
	inserter  scope.TaskInserter
}

// Option configures a Handler.
type Option func(*Handler)

// WithVerifyKey makes the handler require a valid HS256 bearer token,
// the counterpart of the push backend's signing key.
func WithVerifyKey(key []byte) Option {
	return func(h *Handler) {
		h.verifyKey = key
	}
}

// WithInserter makes the insertion engine available to running tasks via
// InserterFrom, so they can open batches for the jobs they spawn.
func WithInserter(ins scope.TaskInserter) Option {
	return func(h *Handler) {
		h.inserter = ins
	}
}

type ctxKey int

const (
	requestKey ctxKey = iota
	inserterKey
)

// RequestFrom returns the scope state of the task currently being
// dispatched on this context.
func RequestFrom(ctx context.Context) (*scope.Request, bool) {
	req, ok := ctx.Value(requestKey).(*scope.Request)
	return req, ok
}

// InserterFrom returns the insertion engine configured with WithInserter.
func InserterFrom(ctx context.Context) (scope.TaskInserter, bool) {
	ins, ok := ctx.Value(inserterKey).(scope.TaskInserter)
	return ins, ok
}

// NewHandler creates a dispatch handler executing functions from registry.
func NewHandler(locals *scope.Locals, registry *invoke.Registry, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		locals:   locals,
		registry: registry,
		logger:   logger.With("component", "dispatch_handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router mounts the async endpoint.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post(job.AsyncEndpoint+"/*", h.runTask)
	return r
}

// runTask handles POST {AsyncEndpoint}/{function}. A 2xx tells the backend
// the task is done; a 5xx invites redelivery.
func (h *Handler) runTask(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := h.logger.With("request_id", requestID)

	if h.verifyKey != nil {
		if !h.authorize(r, logger) {
			http.Error(w, "invalid or missing dispatch token", http.StatusUnauthorized)
			return
		}
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}

	j, err := job.FromPayload(payload)
	if err != nil {
		logger.Warn("rejecting malformed task payload", "error", err)
		http.Error(w, "malformed task payload", http.StatusBadRequest)
		return
	}

	call, ok := j.Call()
	if !ok {
		http.Error(w, "payload has no job", http.StatusBadRequest)
		return
	}

	handler, err := h.registry.Resolve(call.Function)
	if err != nil {
		// Permanent: redelivering an unknown reference cannot succeed.
		logger.Error("no handler registered for function", "function", call.Function)
		http.Error(w, "unknown function reference", http.StatusNotFound)
		return
	}

	req := h.locals.For(requestID)
	defer h.locals.Release(requestID)

	root, err := req.RootExecution(j)
	if err != nil {
		logger.Error("failed to establish execution context", "error", err)
		http.Error(w, "failed to establish execution context", http.StatusInternalServerError)
		return
	}

	var args []any
	kwargs := map[string]any{}
	if call.Args != nil {
		args = call.Args.Positional
		kwargs = call.Args.Keyword
	}

	logger.Info("executing task",
		"function", call.Function,
		"queue", j.Queue())

	taskCtx := context.WithValue(r.Context(), requestKey, req)
	if h.inserter != nil {
		taskCtx = context.WithValue(taskCtx, inserterKey, h.inserter)
	}

	root.Enter()
	runErr := handler(taskCtx, args, kwargs)
	if exitErr := root.Exit(runErr); exitErr != nil {
		logger.Error("execution context corrupted", "error", exitErr)
		http.Error(w, "execution context corrupted", http.StatusInternalServerError)
		return
	}

	if runErr != nil {
		logger.Error("task execution failed",
			"function", call.Function,
			"error", runErr)
		http.Error(w, "task execution failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) authorize(r *http.Request, logger *slog.Logger) bool {
	header := r.Header.Get("Authorization")
	tokenString, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return false
	}

	if _, err := auth.Verify(h.verifyKey, tokenString); err != nil {
		logger.Warn("rejected dispatch token", "error", err)
		return false
	}
	return true
}
