package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

func prepareGoose() error {
	goose.SetBaseFS(migrations)
	return goose.SetDialect("postgres")
}

// Migrate applies all pending embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrationStatus prints the applied state of every embedded migration.
func MigrationStatus(ctx context.Context, db *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return goose.StatusContext(ctx, db, migrationsDir)
}
