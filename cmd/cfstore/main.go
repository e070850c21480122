package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	httpserver "cfstore/internal/http"
	"cfstore/pkg/memstore"
	"cfstore/pkg/metrics"
	"cfstore/pkg/store"
)

func main() {
	configPath := flag.String("config", "cfstore.yaml", "path to config file")
	flag.Parse()

	cfg, err := initConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	opts := store.DefaultOptions(cfg.Storage.DataDir)
	opts.FlushThresholdBytes = cfg.Storage.FlushThresholdBytes
	opts.MemStore = memstore.Config{
		UseSlab:       cfg.Storage.SlabEnabled,
		SlabChunkSize: cfg.Storage.SlabChunkBytes,
		SlabMaxAlloc:  cfg.Storage.SlabMaxAllocBytes,
	}
	opts.Metrics = metrics.NewVictoria()

	st, err := store.Open(opts)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	server := httpserver.NewServer(st, cfg.HTTP.Port)
	if err := server.Start(); err != nil {
		slog.Error("failed to start status server", "error", err)
		os.Exit(1)
	}
	defer server.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	slog.Info("cfstore stopped")
}
