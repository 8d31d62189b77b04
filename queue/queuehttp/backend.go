// Package queuehttp pushes wire tasks to a dispatch endpoint over HTTP.
// Each task is POSTed to its own URL with its headers and payload; HTTP 429
// and 5xx responses, like transport failures, carry the transient-failure
// signal so the insertion engine splits and retries the batch.
package queuehttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/phrazzld/deferred/internal/auth"
	"github.com/phrazzld/deferred/job"
	"github.com/phrazzld/deferred/queue"
)

// Headers added by this backend to every delivery. Caller headers from the
// wire task are set first and win on collision.
const (
	headerQueue = "X-Deferred-Queue"
	headerETA   = "X-Deferred-ETA"
)

// ErrTransactionalUnsupported is returned when a transactional insert is
// requested; HTTP delivery has no transaction to join.
var ErrTransactionalUnsupported = fmt.Errorf("http backend does not support transactional inserts")

// Backend delivers wire tasks to the dispatch endpoint of baseURL.
type Backend struct {
	baseURL    string
	client     *http.Client
	signingKey []byte
	logger     *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Backend) {
		b.client = client
	}
}

// WithSigningKey makes the backend attach an HS256 bearer token to every
// delivery so the dispatch endpoint can authenticate it.
func WithSigningKey(key []byte) Option {
	return func(b *Backend) {
		b.signingKey = key
	}
}

// New creates a push backend targeting the dispatch server at baseURL.
func New(baseURL string, logger *slog.Logger, opts ...Option) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "http_backend"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Insert delivers the tasks in order. The first failed delivery aborts the
// batch; transient failures are reported with queue.ErrTransient so the
// inserter can split and retry.
func (b *Backend) Insert(ctx context.Context, tasks []*job.Task, queueName string, transactional bool) error {
	if transactional {
		return ErrTransactionalUnsupported
	}

	for _, task := range tasks {
		if err := b.deliver(ctx, task, queueName); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) deliver(ctx context.Context, task *job.Task, queueName string) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, b.baseURL+task.URL, bytes.NewReader(task.Payload))
	if err != nil {
		return fmt.Errorf("failed to build dispatch request: %w", err)
	}

	for name, value := range task.Headers {
		req.Header.Set(name, value)
	}
	req.Header.Set(headerQueue, queueName)
	if eta := task.ETAPosix(); eta > 0 {
		req.Header.Set(headerETA, strconv.FormatInt(eta, 10))
	}

	if b.signingKey != nil {
		token, err := auth.Sign(b.signingKey, queueName, functionFromURL(task.URL))
		if err != nil {
			return fmt.Errorf("failed to sign dispatch request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		// Transport failures are retryable by definition.
		return fmt.Errorf("dispatch request failed: %w: %w", queue.ErrTransient, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		b.logger.Debug("task delivered",
			"queue", queueName,
			"url", task.URL,
			"status", resp.StatusCode)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("dispatch endpoint returned %d: %w", resp.StatusCode, queue.ErrTransient)
	default:
		return fmt.Errorf("dispatch endpoint rejected task with status %d", resp.StatusCode)
	}
}

// functionFromURL recovers the escaped function reference segment from a
// task URL for token claims. The URL always has the async endpoint prefix.
func functionFromURL(taskURL string) string {
	if len(taskURL) > len(job.AsyncEndpoint)+1 {
		return taskURL[len(job.AsyncEndpoint)+1:]
	}
	return ""
}
