package invoke

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, args []any, kwargs map[string]any) error {
	return nil
}

func TestRegisterAndResolve(t *testing.T) {
	registry := NewRegistry()

	var gotArgs []any
	err := registry.Register("test.func", func(ctx context.Context, args []any, kwargs map[string]any) error {
		gotArgs = args
		return nil
	})
	require.NoError(t, err)

	handler, err := registry.Resolve("test.func")
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), []any{1, 2}, nil))
	assert.Equal(t, []any{1, 2}, gotArgs)
}

func TestResolveUnknown(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Resolve("test.missing")

	assert.ErrorIs(t, err, ErrUnknownFunction)
}

func TestRegisterDuplicate(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("test.func", noop))

	err := registry.Register("test.func", noop)

	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegisterNilHandler(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register("test.func", nil)

	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestRegisterEmptyReference(t *testing.T) {
	registry := NewRegistry()

	assert.Error(t, registry.Register("", noop))
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("test.func", noop)

	assert.Panics(t, func() {
		registry.MustRegister("test.func", noop)
	})
}
