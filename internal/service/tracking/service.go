package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/pixel-tracker/internal/domain"
)

// RequestMeta is the raw request data an open is built from. All fields
// come straight from the transport and may be empty or malformed.
type RequestMeta struct {
	UserAgent       string
	Section         string
	ClientTimestamp string
	ClientTime      string
	IPAddress       string
}

// Service records opens and aggregates them. It is safe for concurrent use
// and holds no mutable state of its own.
type Service struct {
	repo Repository
	sink EventSink
	now  func() time.Time
}

// NewService creates a tracking service backed by repo. Opens are written
// to sink, or to repo when sink is nil.
func NewService(repo Repository, sink EventSink) *Service {
	if sink == nil {
		sink = repo
	}
	return &Service{
		repo: repo,
		sink: sink,
		now:  time.Now,
	}
}

// BuildEvent turns request metadata into an open event stamped with the
// server clock.
func (s *Service) BuildEvent(meta RequestMeta) domain.OpenEvent {
	ua := meta.UserAgent
	if ua == "" {
		ua = domain.UnknownUserAgent
	}
	ev := domain.OpenEvent{
		ID:          uuid.New().String(),
		Time:        s.now().UTC().Truncate(time.Millisecond),
		UserAgent:   ua,
		EmailClient: Classify(ua),
		ClientTs:    parseClientTime(meta.ClientTimestamp),
		ClientTime:  parseClientTime(meta.ClientTime),
		IPAddress:   meta.IPAddress,
	}
	if meta.Section != "" {
		section := meta.Section
		ev.Section = &section
	}
	return ev
}

// Record appends one open to the document for key.
func (s *Service) Record(ctx context.Context, key string, meta RequestMeta) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.sink.AppendOpen(ctx, key, s.BuildEvent(meta)); err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	return nil
}

// Aggregate returns per-client stats for key. An unknown key yields empty
// stats, not an error.
func (s *Service) Aggregate(ctx context.Context, key string) (*domain.Stats, error) {
	doc, err := s.repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return EmptyStats(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tracking document: %w", err)
	}
	return Summarize(doc), nil
}

// EmptyStats is the result for a key with no document.
func EmptyStats() *domain.Stats {
	return &domain.Stats{OpenCount: 0, UserStats: []domain.UserStat{}}
}

// Summarize groups the opens of doc by raw user agent in a single pass.
// Groups are returned in the order their first event appears. OpenCount
// is copied from the document counter, not derived from len(doc.Opens).
func Summarize(doc *domain.TrackingDocument) *domain.Stats {
	stats := EmptyStats()
	if doc == nil {
		return stats
	}
	stats.OpenCount = doc.OpenCount

	index := make(map[string]int)
	for _, ev := range doc.Opens {
		ua := ev.UserAgent
		if ua == "" {
			ua = domain.UnknownUserAgent
		}
		i, ok := index[ua]
		if !ok {
			client := ev.EmailClient
			if client == "" {
				client = Classify(ua)
			}
			index[ua] = len(stats.UserStats)
			stats.UserStats = append(stats.UserStats, domain.UserStat{
				UserAgent:   ua,
				EmailClient: client,
				FirstSeen:   ev.Time,
				LastSeen:    ev.Time,
			})
			continue
		}
		g := &stats.UserStats[i]
		if ev.Time.Before(g.FirstSeen) {
			g.FirstSeen = ev.Time
		}
		if ev.Time.After(g.LastSeen) {
			g.LastSeen = ev.Time
		}
	}

	for i := range stats.UserStats {
		g := &stats.UserStats[i]
		g.SecondsSpent = roundSeconds(g.LastSeen.Sub(g.FirstSeen))
	}
	return stats
}

// roundSeconds converts whole milliseconds to seconds, rounding half up.
func roundSeconds(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return (ms + 500) / 1000
}
