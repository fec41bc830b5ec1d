package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/pixel-tracker/internal/config"
	"github.com/ignite/pixel-tracker/internal/pkg/logger"
	"github.com/ignite/pixel-tracker/internal/storage"
	"github.com/ignite/pixel-tracker/internal/tracking"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Redact()); err != nil {
		logger.Warn("invalid log level, using info", "error", err)
	}
	defer logger.Sync()

	if cfg.Queue.SQSQueueURL == "" {
		logger.Error("SQS_TRACKING_QUEUE_URL is required")
		os.Exit(1)
	}
	if cfg.Storage.Type == storage.TypeMemory {
		logger.Warn("worker is writing to an in-memory store; the tracking service will not see these opens")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to open storage", "type", cfg.Storage.Type, "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	awsCfg, err := storage.LoadAWSConfig(ctx, cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile(), "")
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	consumer := tracking.NewConsumer(storage.NewSQSClient(awsCfg), cfg.Queue.SQSQueueURL, backend.Repo)
	consumer.SetPolling(cfg.Queue.WaitSeconds, cfg.Queue.MaxMessages)
	consumer.Start(ctx)
	logger.Info("worker running", "storage", backend.Type)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	consumer.Stop()
	logger.Info("worker stopped")
}
