package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillkom/grounded-docqa/internal/bootstrap"
	"github.com/kirillkom/grounded-docqa/internal/config"
	natsbus "github.com/kirillkom/grounded-docqa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/grounded-docqa/internal/observability/logging"
	"github.com/kirillkom/grounded-docqa/internal/observability/metrics"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	if err := run(cfg); err != nil {
		slog.Error("worker_failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg,
		bootstrap.WithService("worker"),
		bootstrap.WithRegisterer(workerMetrics.Registry()),
		bootstrap.RequireBus(),
		bootstrap.LocalAnswering(),
	)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	metricsServer := newMetricsServer(cfg.WorkerMetricsPort, workerMetrics, app)
	go func() {
		slog.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	answerer := workerMetrics.Instrument("worker", app.Local)
	err = app.Bus.ServeQuestions(ctx, answerer, natsbus.ServeOptions{
		Timeout:     cfg.WorkerQuestionTimeout,
		Concurrency: cfg.WorkerConcurrency,
	})
	if err != nil {
		return fmt.Errorf("serve questions: %w", err)
	}
	slog.Info("worker_stopped")
	return nil
}

func newMetricsServer(port string, workerMetrics *metrics.WorkerMetrics, app *bootstrap.App) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", workerMetrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.Ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
