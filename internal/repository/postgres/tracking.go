package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/service/tracking"
)

// TrackingRepo implements tracking.Repository against PostgreSQL. Opens
// live in a JSONB array column, one row per tracking key.
type TrackingRepo struct{ db *sql.DB }

// NewTrackingRepo creates a Postgres-backed tracking repository.
func NewTrackingRepo(db *sql.DB) *TrackingRepo { return &TrackingRepo{db: db} }

// AppendOpen upserts the row and concatenates the event in one statement,
// so concurrent appends for the same key serialize on the row lock.
func (r *TrackingRepo) AppendOpen(ctx context.Context, key string, ev domain.OpenEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal open event: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tracking_documents (key, opens, created_at, updated_at)
		VALUES ($1, jsonb_build_array($2::jsonb), NOW(), NOW())
		ON CONFLICT (key) DO UPDATE
		SET opens = tracking_documents.opens || EXCLUDED.opens, updated_at = NOW()
	`, key, string(payload))
	if err != nil {
		return fmt.Errorf("append open: %w", err)
	}
	return nil
}

func (r *TrackingRepo) Get(ctx context.Context, key string) (*domain.TrackingDocument, error) {
	var (
		openCount sql.NullInt64
		opens     []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT open_count, opens FROM tracking_documents WHERE key = $1`,
		key,
	).Scan(&openCount, &opens)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking document: %w", err)
	}

	doc := &domain.TrackingDocument{Key: key, OpenCount: int(openCount.Int64)}
	if len(opens) > 0 {
		if err := json.Unmarshal(opens, &doc.Opens); err != nil {
			return nil, fmt.Errorf("decode opens: %w", err)
		}
	}
	return doc, nil
}
