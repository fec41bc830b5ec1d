package main

import (
	"context"
	"os"

	"github.com/ignite/pixel-tracker/internal/pkg/logger"
	"github.com/ignite/pixel-tracker/internal/repository/postgres"
	"github.com/ignite/pixel-tracker/internal/storage"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		}
	}

	ctx := context.Background()
	db, err := storage.OpenPostgresDB(ctx, dsn)
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	if listOnly {
		if err := postgres.MigrationStatus(ctx, db); err != nil {
			logger.Error("migration status failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete")
}
