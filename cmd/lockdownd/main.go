package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lockdown/internal/analytics"
	"lockdown/internal/api"
	"lockdown/internal/config"
	"lockdown/internal/detect"
	"lockdown/internal/ingest"
	"lockdown/internal/logging"
	"lockdown/internal/parse"
	"lockdown/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	parser := parse.NewParser(nil)
	pipeline := ingest.NewPipeline(store, parser, cfg.Ingest, logger)
	detector := detect.NewDetector(store, nil)
	aggregator := analytics.NewAggregator(store, nil)

	ingest.StartKafka(ctx, cfg.Ingest.Kafka, pipeline, logger)
	api.Start(ctx, mgr, pipeline, detector, aggregator, logger, version)

	go mgr.Watch(3*time.Second,
		func(*config.Config) { logger.Info("config reloaded", "path", mgr.Path()) },
		func(err error) { logger.Warn("config reload error", "err", err) },
		ctx.Done(),
	)

	logger.Info("lockdownd started",
		"version", version,
		"storage", cfg.Storage.Driver,
		"ingest_dir", cfg.Ingest.Dir,
	)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
