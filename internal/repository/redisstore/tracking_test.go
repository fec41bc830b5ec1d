package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/service/tracking"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) (*TrackingRepo, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewTrackingRepo(client), mr
}

var t0 = time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC)

func TestTrackingRepo_AppendAndGet(t *testing.T) {
	repo, mr := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AppendOpen(ctx, "abc", domain.OpenEvent{ID: "1", Time: t0, UserAgent: "Gmail", EmailClient: domain.ClientGmail}))
	require.NoError(t, repo.AppendOpen(ctx, "abc", domain.OpenEvent{ID: "2", Time: t0.Add(time.Minute), UserAgent: "Yahoo", EmailClient: domain.ClientYahooMail}))

	list, err := mr.List("tracking:abc:opens")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	doc, err := repo.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", doc.Key)
	assert.Equal(t, 0, doc.OpenCount)
	require.Len(t, doc.Opens, 2)
	assert.Equal(t, "1", doc.Opens[0].ID)
	assert.Equal(t, "2", doc.Opens[1].ID)
	assert.True(t, t0.Equal(doc.Opens[0].Time))
	assert.Equal(t, domain.ClientYahooMail, doc.Opens[1].EmailClient)
}

func TestTrackingRepo_Get_NotFound(t *testing.T) {
	repo, _ := setupRepo(t)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestTrackingRepo_Get_OpenCount(t *testing.T) {
	repo, mr := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.AppendOpen(ctx, "abc", domain.OpenEvent{Time: t0}))
	require.NoError(t, mr.Set("tracking:abc:count", "3"))

	doc, err := repo.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.OpenCount)
	assert.Len(t, doc.Opens, 1)
}

func TestTrackingRepo_Get_CountOnly(t *testing.T) {
	repo, mr := setupRepo(t)
	require.NoError(t, mr.Set("tracking:legacy:count", "4"))

	doc, err := repo.Get(context.Background(), "legacy")
	require.NoError(t, err)
	assert.Equal(t, "legacy", doc.Key)
	assert.Equal(t, 4, doc.OpenCount)
	assert.Empty(t, doc.Opens)
}

func TestTrackingRepo_Get_CorruptEntry(t *testing.T) {
	repo, mr := setupRepo(t)
	_, err := mr.Push("tracking:abc:opens", "{broken")
	require.NoError(t, err)

	_, err = repo.Get(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, tracking.ErrNotFound)
}

func TestTrackingRepo_Unavailable(t *testing.T) {
	repo, mr := setupRepo(t)
	mr.Close()
	ctx := context.Background()

	assert.Error(t, repo.AppendOpen(ctx, "abc", domain.OpenEvent{Time: t0}))
	_, err := repo.Get(ctx, "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, tracking.ErrNotFound)
}

func TestTrackingRepo_ConcurrentAppends(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.AppendOpen(ctx, "shared", domain.OpenEvent{Time: t0, UserAgent: "Outlook"}))
		}()
	}
	wg.Wait()

	doc, err := repo.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, doc.Opens, n)
}
