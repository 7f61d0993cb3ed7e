package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/grounded-docqa/internal/adapters/http"
	mcpadapter "github.com/kirillkom/grounded-docqa/internal/adapters/mcp"
	"github.com/kirillkom/grounded-docqa/internal/bootstrap"
	"github.com/kirillkom/grounded-docqa/internal/config"
	"github.com/kirillkom/grounded-docqa/internal/observability/logging"
	"github.com/kirillkom/grounded-docqa/internal/observability/metrics"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("api", cfg.LogLevel))

	if err := run(cfg); err != nil {
		slog.Error("api_failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg,
		bootstrap.WithService("api"),
		bootstrap.WithRegisterer(httpMetrics.Registry()),
	)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	options := []httpadapter.RouterOption{
		httpadapter.WithMetrics(httpMetrics),
		httpadapter.WithReadiness(app.Ready),
	}
	if cfg.MCPHTTPEnabled {
		tools := mcpadapter.NewServer(app.Answerer, app.Provider)
		options = append(options, httpadapter.WithMCPHandler(tools.HTTPHandler("/mcp")))
	}
	router := httpadapter.NewRouter(cfg, app.Answerer, app.Documents, app.Provider, options...).Handler()

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.APIRequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("api_listening", "addr", listener.Addr().String(), "mcp", cfg.MCPHTTPEnabled)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("api_stopped")
	return nil
}
