// Package main implements the deferred task worker: it serves the async
// dispatch endpoint and wires a queueing backend for the jobs the running
// tasks spawn.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/deferred/dispatch"
	"github.com/phrazzld/deferred/internal/config"
	"github.com/phrazzld/deferred/internal/platform/logger"
	"github.com/phrazzld/deferred/invoke"
	"github.com/phrazzld/deferred/queue"
	"github.com/phrazzld/deferred/queue/queuehttp"
	"github.com/phrazzld/deferred/queue/queuepg"
	"github.com/phrazzld/deferred/scope"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel)
	appLogger.Info("worker configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"queue_backend", cfg.Queue.Backend)

	backend, cleanup, err := buildBackend(cfg, appLogger)
	if err != nil {
		return err
	}
	defer cleanup()

	metrics := queue.NewMetrics(prometheus.DefaultRegisterer)
	inserter := queue.NewInserter(backend, appLogger, queue.WithMetrics(metrics))

	locals := scope.NewLocals(appLogger)
	registry := invoke.NewRegistry()

	handlerOpts := []dispatch.Option{dispatch.WithInserter(inserter)}
	if cfg.Queue.SigningSecret != "" {
		handlerOpts = append(handlerOpts, dispatch.WithVerifyKey([]byte(cfg.Queue.SigningSecret)))
	}
	handler := dispatch.NewHandler(locals, registry, appLogger, handlerOpts...)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Mount("/", handler.Router())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("dispatch server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("dispatch server failed: %w", err)
	case sig := <-stop:
		appLogger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}

// buildBackend constructs the configured queue backend and returns it with
// its cleanup function.
func buildBackend(cfg *config.Config, appLogger *slog.Logger) (queue.Backend, func(), error) {
	switch cfg.Queue.Backend {
	case "postgres":
		db, err := sql.Open("pgx", cfg.Queue.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to reach database: %w", err)
		}
		if err := queuepg.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return queuepg.New(db, appLogger), func() { _ = db.Close() }, nil

	case "http":
		var opts []queuehttp.Option
		if cfg.Queue.SigningSecret != "" {
			opts = append(opts, queuehttp.WithSigningKey([]byte(cfg.Queue.SigningSecret)))
		}
		return queuehttp.New(cfg.Queue.Endpoint, appLogger, opts...), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported queue backend %q", cfg.Queue.Backend)
	}
}
