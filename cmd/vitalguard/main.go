package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vitalguard/internal/access"
	"vitalguard/internal/alerts"
	"vitalguard/internal/api"
	"vitalguard/internal/audit"
	"vitalguard/internal/config"
	"vitalguard/internal/engine"
	"vitalguard/internal/ingest"
	"vitalguard/internal/logging"
	"vitalguard/internal/model"
	"vitalguard/internal/storage"
	"vitalguard/internal/stream"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (json or yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintln(os.Stderr, "vitalguard:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	manager, err := newManager(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting", "version", version, "config", manager.Path())

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
	}

	resolver := access.NewStaticResolver(cfg)
	hub := stream.NewHub(cfg.Stream.Buffer, logging.Component(logger, "stream"))
	trail := audit.NewTrail(cfg.Audit.StoreLimit)
	alertStore := alerts.NewStore(cfg.Alerts.ResolvedLimit)
	eng := engine.NewEngine(cfg, logging.Component(logger, "engine"), alertStore, trail, hub, store, resolver)

	samples := make(chan model.Sample, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, samples)
	eng.RunTicker(ctx)

	ingest.StartREST(ctx, manager, samples, logging.Component(logger, "ingest"))
	ingest.StartKafka(ctx, manager, samples, logging.Component(logger, "ingest"))
	api.Start(ctx, manager, eng, hub, trail, resolver, logging.Component(logger, "api"), version)

	// Config reloads push the new tuning into the engine and the access
	// table. Listen addresses do not change on reload.
	go manager.Watch(5*time.Second,
		func(cfg *config.Config) {
			eng.UpdateConfig(cfg)
			resolver.UpdateConfig(cfg)
			logger.Info("config reloaded", "path", manager.Path())
		},
		func(err error) {
			logger.Warn("config reload failed", "err", err)
		},
		ctx.Done(),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func newManager(path string) (*config.Manager, error) {
	if path == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	return config.NewManager(config.ResolvePath(path))
}
