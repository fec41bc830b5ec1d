package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/pixel-tracker/internal/config"
	"github.com/ignite/pixel-tracker/internal/pkg/logger"
	trackingsvc "github.com/ignite/pixel-tracker/internal/service/tracking"
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

	ctx := context.Background()
	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to open storage", "type", cfg.Storage.Type, "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	// In queue mode the pixel path only enqueues; cmd/worker does the writes.
	var sink trackingsvc.EventSink
	var pub *tracking.Publisher
	if cfg.Queue.Enabled {
		if cfg.Queue.SQSQueueURL == "" {
			logger.Error("queue.enabled requires queue.sqs_queue_url")
			os.Exit(1)
		}
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile(), "")
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		pub = tracking.NewPublisher(storage.NewSQSClient(awsCfg), cfg.Queue.SQSQueueURL)
		sink = pub
		logger.Info("queue mode enabled", "queue", cfg.Queue.SQSQueueURL)
	}

	svc := trackingsvc.NewService(backend.Repo, sink)
	handler := tracking.NewHandler(svc, tracking.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StatsRateLimit: cfg.Server.StatsLimit(),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}

	go func() {
		logger.Info("tracking service listening", "addr", srv.Addr, "storage", backend.Type)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	if pub != nil {
		pub.Wait()
	}
}
