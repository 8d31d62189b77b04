package queuehttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/deferred/internal/auth"
	"github.com/phrazzld/deferred/job"
	"github.com/phrazzld/deferred/queue"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func makeTask(t *testing.T, opts job.Options) *job.Task {
	t.Helper()
	task, err := job.MustNew(opts).ToTask()
	require.NoError(t, err)
	return task
}

func TestInsertDeliversTask(t *testing.T) {
	var gotPath, gotQueue, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQueue = r.Header.Get(headerQueue)
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	backend := New(server.URL, setupTestLogger())
	task := makeTask(t, job.Options{"job": "test.func"})

	err := backend.Insert(context.Background(), []*job.Task{task}, "emails", false)

	require.NoError(t, err)
	assert.Equal(t, job.AsyncEndpoint+"/test.func", gotPath)
	assert.Equal(t, "emails", gotQueue)
	assert.Equal(t, "application/json", gotContentType)

	restored, err := job.FromPayload(gotBody)
	require.NoError(t, err)
	assert.Equal(t, "test.func", restored.Function())
}

func TestInsertSetsETAHeader(t *testing.T) {
	var gotETA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotETA = r.Header.Get(headerETA)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	backend := New(server.URL, setupTestLogger())
	task := makeTask(t, job.Options{
		"job":       "test.func",
		"task_args": map[string]any{"eta": float64(1770000000)},
	})

	err := backend.Insert(context.Background(), []*job.Task{task}, "A", false)

	require.NoError(t, err)
	assert.Equal(t, "1770000000", gotETA)
}

func TestInsertSignsRequests(t *testing.T) {
	key := []byte(strings.Repeat("k", auth.MinKeyLength))

	var gotAuthorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthorization = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	backend := New(server.URL, setupTestLogger(), WithSigningKey(key))
	task := makeTask(t, job.Options{"job": "test.func"})

	err := backend.Insert(context.Background(), []*job.Task{task}, "emails", false)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(gotAuthorization, "Bearer "))
	claims, err := auth.Verify(key, strings.TrimPrefix(gotAuthorization, "Bearer "))
	require.NoError(t, err)
	assert.Equal(t, "emails", claims.Queue)
	assert.Equal(t, "test.func", claims.Function)
}

func TestInsertClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"unavailable", http.StatusServiceUnavailable, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"not found", http.StatusNotFound, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			backend := New(server.URL, setupTestLogger())
			task := makeTask(t, job.Options{"job": "test.func"})

			err := backend.Insert(context.Background(), []*job.Task{task}, "A", false)

			require.Error(t, err)
			assert.Equal(t, tc.transient, queue.IsTransient(err))
		})
	}
}

func TestInsertTransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Refuse connections.

	backend := New(server.URL, setupTestLogger())
	task := makeTask(t, job.Options{"job": "test.func"})

	err := backend.Insert(context.Background(), []*job.Task{task}, "A", false)

	assert.True(t, queue.IsTransient(err))
}

func TestInsertStopsAtFirstFailure(t *testing.T) {
	var delivered int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered++
		if delivered == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	backend := New(server.URL, setupTestLogger())
	tasks := []*job.Task{
		makeTask(t, job.Options{"job": "test.one"}),
		makeTask(t, job.Options{"job": "test.two"}),
		makeTask(t, job.Options{"job": "test.three"}),
	}

	err := backend.Insert(context.Background(), tasks, "A", false)

	require.Error(t, err)
	assert.Equal(t, 2, delivered, "the third task is left for the inserter's retry")
}

func TestInsertRejectsTransactional(t *testing.T) {
	backend := New("http://localhost:0", setupTestLogger())

	err := backend.Insert(context.Background(), nil, "A", true)

	assert.ErrorIs(t, err, ErrTransactionalUnsupported)
}
