// Package redisstore keeps tracking documents in Redis. Each key maps to a
// list of JSON-encoded opens plus an optional legacy counter. A key exists
// when either is present.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/service/tracking"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tracking:"

// TrackingRepo implements tracking.Repository on top of Redis lists.
type TrackingRepo struct {
	client *redis.Client
}

// NewTrackingRepo creates a Redis-backed tracking repository.
func NewTrackingRepo(client *redis.Client) *TrackingRepo {
	return &TrackingRepo{client: client}
}

func opensKey(key string) string { return keyPrefix + key + ":opens" }
func countKey(key string) string { return keyPrefix + key + ":count" }

// AppendOpen pushes the event with a single RPUSH. Redis creates the list
// on first push, so there is no separate create step to race with.
func (r *TrackingRepo) AppendOpen(ctx context.Context, key string, ev domain.OpenEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal open event: %w", err)
	}
	if err := r.client.RPush(ctx, opensKey(key), payload).Err(); err != nil {
		return fmt.Errorf("rpush open: %w", err)
	}
	return nil
}

func (r *TrackingRepo) Get(ctx context.Context, key string) (*domain.TrackingDocument, error) {
	var (
		rangeCmd *redis.StringSliceCmd
		countCmd *redis.StringCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, opensKey(key), 0, -1)
		countCmd = pipe.Get(ctx, countKey(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read tracking document: %w", err)
	}

	raw, err := rangeCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("lrange opens: %w", err)
	}
	n, err := countCmd.Int()
	hasCount := true
	switch {
	case errors.Is(err, redis.Nil):
		hasCount = false
	case err != nil:
		return nil, fmt.Errorf("read open count: %w", err)
	}
	if len(raw) == 0 && !hasCount {
		return nil, tracking.ErrNotFound
	}

	doc := &domain.TrackingDocument{Key: key, OpenCount: n, Opens: make([]domain.OpenEvent, 0, len(raw))}
	for _, s := range raw {
		var ev domain.OpenEvent
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			return nil, fmt.Errorf("decode open event: %w", err)
		}
		doc.Opens = append(doc.Opens, ev)
	}
	return doc, nil
}
