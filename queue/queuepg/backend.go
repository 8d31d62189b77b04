// Package queuepg stores wire tasks durably in PostgreSQL. It implements
// the queue.Backend interface: tasks land in the deferred_tasks table where
// an external drain process picks them up by queue and eta. Connection and
// contention failures carry the transient-failure signal so the insertion
// engine retries them.
package queuepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/phrazzld/deferred/job"
	"github.com/phrazzld/deferred/queue"
)

const insertTaskQuery = `
	INSERT INTO deferred_tasks (id, queue_name, url, headers, payload, eta, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Backend persists wire tasks in PostgreSQL.
type Backend struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a backend over the given database handle. Run Migrate first to
// ensure the schema exists.
func New(db *sql.DB, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		db:     db,
		logger: logger.With("component", "postgres_backend"),
	}
}

// Insert stores the tasks in order. When transactional is true all tasks
// commit or none do; otherwise each task is inserted independently and the
// first failure aborts the remainder.
func (b *Backend) Insert(ctx context.Context, tasks []*job.Task, queueName string, transactional bool) error {
	if transactional {
		return b.insertTx(ctx, tasks, queueName)
	}

	for _, task := range tasks {
		if err := b.insertOne(ctx, b.db, task, queueName); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) insertTx(ctx context.Context, tasks []*job.Task, queueName string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, task := range tasks {
		if err := b.insertOne(ctx, tx, task, queueName); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit tasks: %w", err))
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *Backend) insertOne(ctx context.Context, db execer, task *job.Task, queueName string) error {
	headers, err := json.Marshal(task.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode task headers: %w", err)
	}

	var eta *time.Time
	if !task.ETA.IsZero() {
		eta = &task.ETA
	}

	_, err = db.ExecContext(ctx, insertTaskQuery,
		uuid.New(),
		queueName,
		task.URL,
		headers,
		task.Payload,
		eta,
		time.Now().UTC(),
	)
	if err != nil {
		b.logger.Error("failed to store task",
			"queue", queueName,
			"url", task.URL,
			"error", err)
		return classify(fmt.Errorf("failed to store task in queue %q: %w", queueName, err))
	}
	return nil
}

// classify tags retryable database failures with the transient signal.
// Serialization failures, deadlocks, resource exhaustion, shutdown states,
// and network errors all qualify; anything else (constraint violations,
// schema mismatches) stays non-transient.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		switch {
		case code == "40001" || code == "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %w", queue.ErrTransient, err)
		case strings.HasPrefix(code, "53"): // insufficient_resources
			return fmt.Errorf("%w: %w", queue.ErrTransient, err)
		case strings.HasPrefix(code, "57"): // operator_intervention (shutdown, cancel)
			return fmt.Errorf("%w: %w", queue.ErrTransient, err)
		case strings.HasPrefix(code, "08"): // connection_exception
			return fmt.Errorf("%w: %w", queue.ErrTransient, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", queue.ErrTransient, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", queue.ErrTransient, err)
	}
	return err
}
