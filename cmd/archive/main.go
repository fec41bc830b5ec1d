package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ignite/pixel-tracker/internal/archive"
	"github.com/ignite/pixel-tracker/internal/config"
	"github.com/ignite/pixel-tracker/internal/pkg/logger"
	trackingsvc "github.com/ignite/pixel-tracker/internal/service/tracking"
	"github.com/ignite/pixel-tracker/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml (optional)")
	key := flag.String("key", "", "tracking key to export")
	flag.Parse()

	if *key == "" {
		fmt.Fprintln(os.Stderr, "usage: archive [-config path] -key <tracking key>")
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Redact()); err != nil {
		logger.Warn("invalid log level, using info", "error", err)
	}
	defer logger.Sync()

	if cfg.Archive.S3Bucket == "" {
		logger.Error("archive.s3_bucket (ARCHIVE_S3_BUCKET) is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
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

	exp := archive.NewExporter(backend.Repo, storage.NewS3Client(awsCfg), cfg.Archive.S3Bucket, cfg.Archive.Prefix)
	objectKey, err := exp.Export(ctx, *key)
	if errors.Is(err, trackingsvc.ErrNotFound) {
		logger.Error("no tracking document for key", "key", *key)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("export failed", "key", *key, "error", err)
		os.Exit(1)
	}
	fmt.Printf("s3://%s/%s\n", cfg.Archive.S3Bucket, objectKey)
}
