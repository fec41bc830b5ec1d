package tracking

import (
	"context"

	"github.com/ignite/pixel-tracker/internal/domain"
)

// EventSink accepts recorded opens.
type EventSink interface {
	// AppendOpen appends ev to the document for key, creating the document
	// if it does not exist. Creation and append must be one atomic store
	// operation so concurrent opens for the same key are never lost.
	AppendOpen(ctx context.Context, key string, ev domain.OpenEvent) error
}

// Repository defines the data access contract for tracking documents.
type Repository interface {
	EventSink

	// Get returns the full document for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*domain.TrackingDocument, error)
}
