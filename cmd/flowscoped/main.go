// Command flowscoped hosts the event-log/streaming engine: it tails the
// producer's conversation logs, maintains the shared flow store and serves
// the read-only observer API. Live browser push is a separate gateway that
// subscribes through the filter registry.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/flowscope/flowscope/internal/archive"
	"github.com/flowscope/flowscope/internal/config"
	"github.com/flowscope/flowscope/internal/eventstore"
	"github.com/flowscope/flowscope/internal/filter"
	"github.com/flowscope/flowscope/internal/server"
	"github.com/flowscope/flowscope/internal/tailer"
	"github.com/flowscope/flowscope/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("flowscope", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	storeOpts := []eventstore.Option{
		eventstore.WithRetention(cfg.Store.Retention()),
		eventstore.WithLogger(logger),
	}
	if cfg.Archive.Path != "" {
		sink, err := archive.New(cfg.Archive.Path)
		if err != nil {
			log.Fatalf("Failed to open archive: %v", err)
		}
		defer sink.Close()
		storeOpts = append(storeOpts, eventstore.WithArchiver(sink))
	}

	store, err := eventstore.New(cfg.Store.Path, storeOpts...)
	if err != nil {
		log.Fatalf("Failed to create event store: %v", err)
	}

	t := tailer.New(cfg.Logs.Dir,
		tailer.WithPollInterval(cfg.Tailer.Interval()),
		tailer.WithMaxHistory(cfg.Tailer.MaxHistory),
		tailer.WithLogger(logger),
	)

	// The subscriber registry is the hand-off point for downstream
	// broadcast gateways.
	registry := filter.NewRegistry()
	t.AddHandler(registry.Dispatch)

	srv := server.New(cfg.Server.Port, logger)
	server.NewHandlers(store, t, logger).Register(srv.Router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tailerDone := make(chan error, 1)
	go func() {
		tailerDone <- t.Start(ctx)
	}()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	logger.Info("flowscope started",
		slog.String("logs_dir", cfg.Logs.Dir),
		slog.String("store_path", cfg.Store.Path),
		slog.Int("port", cfg.Server.Port),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverDone:
		if err != nil {
			logger.Error("server exited", slog.String("error", err.Error()))
		}
	}

	t.Stop()
	cancel()
	<-tailerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("flowscope stopped")
}
