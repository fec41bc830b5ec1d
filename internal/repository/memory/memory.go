// Package memory is an in-process tracking document store for tests and
// local development. Data is lost when the process exits.
package memory

import (
	"context"
	"sync"

	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/service/tracking"
)

// Repo implements tracking.Repository with a mutex-guarded map.
type Repo struct {
	mu   sync.RWMutex
	docs map[string]*domain.TrackingDocument
}

func NewRepo() *Repo {
	return &Repo{docs: make(map[string]*domain.TrackingDocument)}
}

func (r *Repo) AppendOpen(_ context.Context, key string, ev domain.OpenEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[key]
	if !ok {
		doc = &domain.TrackingDocument{Key: key}
		r.docs[key] = doc
	}
	doc.Opens = append(doc.Opens, ev)
	return nil
}

// Get returns a copy of the stored document.
func (r *Repo) Get(_ context.Context, key string) (*domain.TrackingDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[key]
	if !ok {
		return nil, tracking.ErrNotFound
	}
	out := &domain.TrackingDocument{
		Key:       doc.Key,
		OpenCount: doc.OpenCount,
		Opens:     make([]domain.OpenEvent, len(doc.Opens)),
	}
	copy(out.Opens, doc.Opens)
	return out, nil
}

// SetOpenCount overwrites the legacy counter of an existing document.
// Test-only helper.
func (r *Repo) SetOpenCount(key string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[key]; ok {
		doc.OpenCount = n
	}
}
