package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kirillkom/grounded-docqa/internal/bootstrap"
	"github.com/kirillkom/grounded-docqa/internal/config"
	"github.com/kirillkom/grounded-docqa/internal/core/usecase"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/chunking"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/grounded-docqa/internal/observability/logging"
)

// seed indexes a directory of text documents for local development:
//
//	seed -dir ./corpus -org acme -user alice
func main() {
	_ = godotenv.Load()

	dir := flag.String("dir", "./data/corpus", "corpus directory")
	orgID := flag.String("org", "", "organization that owns the documents")
	userID := flag.String("user", "", "user to add as organization member")
	chunkSize := flag.Int("chunk-size", 900, "max runes per chunk")
	overlap := flag.Int("chunk-overlap", 120, "runes shared by consecutive windows of long paragraphs")
	flag.Parse()

	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("seed", cfg.LogLevel))
	if *orgID == "" {
		fmt.Fprintln(os.Stderr, "usage: seed -dir <corpus> -org <org id> [-user <user id>]")
		os.Exit(2)
	}

	if err := run(cfg, *dir, usecase.IndexRequest{OrgID: *orgID, UserID: *userID}, *chunkSize, *overlap); err != nil {
		slog.Error("seed_failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, dir string, req usecase.IndexRequest, chunkSize, overlap int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := localfs.New(dir)
	if err != nil {
		return err
	}
	keys, err := source.List(ctx)
	if err != nil {
		return err
	}
	req.Keys = keys

	// Indexing never answers questions, so it needs no broker.
	cfg.TracePublishEnabled = false
	cfg.AskTransport = "local"
	app, err := bootstrap.New(ctx, cfg, bootstrap.WithService("seed"))
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	indexer := app.NewIndexService(plaintext.NewExtractor(source), chunking.NewSplitter(chunkSize, overlap))
	report, err := indexer.IndexCorpus(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("print report: %w", err)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d documents failed", len(report.Failed), len(keys))
	}
	return nil
}
