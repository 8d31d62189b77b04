// Package invoke resolves function references to registered handlers.
// Job descriptors carry only a reference string; nothing is resolved until a
// dispatched task actually needs to run. The registry is the process-side
// other half of that contract.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handler executes one deferred call with the arguments reconstructed from
// the wire payload.
type Handler func(ctx context.Context, args []any, kwargs map[string]any) error

// Errors returned by registry operations.
var (
	// ErrUnknownFunction is returned when a reference resolves to nothing.
	ErrUnknownFunction = errors.New("unknown function reference")

	// ErrAlreadyRegistered is returned when a reference is registered twice.
	ErrAlreadyRegistered = errors.New("function reference already registered")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("handler must not be nil")
)

// Registry maps function references to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a function reference to a handler. References are bound
// once; a duplicate registration is a programming error and is rejected.
func (r *Registry) Register(reference string, handler Handler) error {
	if reference == "" {
		return fmt.Errorf("%w: empty reference", ErrUnknownFunction)
	}
	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[reference]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, reference)
	}
	r.handlers[reference] = handler
	return nil
}

// MustRegister is Register for wiring done at startup, where a duplicate is
// fatal. It panics on error.
func (r *Registry) MustRegister(reference string, handler Handler) {
	if err := r.Register(reference, handler); err != nil {
		panic(err)
	}
}

// Resolve returns the handler bound to the given reference.
func (r *Registry) Resolve(reference string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[reference]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, reference)
	}
	return handler, nil
}
