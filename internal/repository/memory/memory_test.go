package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/service/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepo_GetMissing(t *testing.T) {
	r := NewRepo()
	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestRepo_AppendPreservesArrivalOrder(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()
	base := time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ev := domain.OpenEvent{ID: fmt.Sprint(i), Time: base.Add(-time.Duration(i) * time.Second)}
		require.NoError(t, r.AppendOpen(ctx, "k", ev))
	}

	doc, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.Len(t, doc.Opens, 3)
	for i, ev := range doc.Opens {
		assert.Equal(t, fmt.Sprint(i), ev.ID)
	}
}

func TestRepo_GetReturnsCopy(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()
	require.NoError(t, r.AppendOpen(ctx, "k", domain.OpenEvent{ID: "a"}))

	doc, err := r.Get(ctx, "k")
	require.NoError(t, err)
	doc.Opens[0].ID = "mutated"

	again, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Opens[0].ID)
}

func TestRepo_ConcurrentAppends(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.AppendOpen(ctx, "k", domain.OpenEvent{}))
		}()
	}
	wg.Wait()

	doc, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, doc.Opens, n)
}

func TestRepo_SetOpenCount(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()
	require.NoError(t, r.AppendOpen(ctx, "k", domain.OpenEvent{}))

	r.SetOpenCount("k", 4)
	r.SetOpenCount("missing", 9)

	doc, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 4, doc.OpenCount)
	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}
