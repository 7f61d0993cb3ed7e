package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	mcpadapter "github.com/kirillkom/grounded-docqa/internal/adapters/mcp"
	"github.com/kirillkom/grounded-docqa/internal/bootstrap"
	"github.com/kirillkom/grounded-docqa/internal/config"
	"github.com/kirillkom/grounded-docqa/internal/observability/logging"
)

// Stdout carries the MCP protocol, so logs go to stderr.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	slog.SetDefault(logging.NewStderrLogger("mcp", cfg.LogLevel))

	if err := run(cfg); err != nil {
		slog.Error("mcp_failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.WithService("mcp"))
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	slog.Info("mcp_stdio_started")
	if err := mcpadapter.NewServer(app.Answerer, app.Provider).ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve stdio: %w", err)
	}
	return nil
}
