package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stagepass/session-service/internal/readcache"
	"github.com/stretchr/testify/require"
)

func TestCachedStore_ReplaysThenWritesBack(t *testing.T) {
	inner := NewMemoryStore()
	cache := readcache.NewMemoryCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, cache.Put(ctx, "profile:k", []byte(`{"email":"k","timezone":"Asia/Tokyo"}`)))
	inner.Put("k", &Profile{Email: "k", Timezone: "UTC"})

	s := NewCachedStore(inner, cache)
	ch, err := s.WatchProfile(ctx, "k")
	require.NoError(t, err)

	require.Equal(t, "Asia/Tokyo", next(t, ch).Timezone)
	require.Equal(t, "UTC", next(t, ch).Timezone)

	b, err := cache.Get(ctx, "profile:k")
	require.NoError(t, err)
	require.Contains(t, string(b), `"timezone":"UTC"`)
}

func TestCachedStore_ClearedCacheReplaysNothing(t *testing.T) {
	inner := NewMemoryStore()
	cache := readcache.NewMemoryCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, cache.Put(ctx, "stats:k", []byte(`{"points":99}`)))
	require.NoError(t, cache.Clear(ctx))
	inner.PutStats("k", &Stats{Points: 1})

	ch, err := NewCachedStore(inner, cache).WatchStats(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 1, next(t, ch).Points)
}

func TestCachedStore_NoWriteBackAfterCancel(t *testing.T) {
	cache := readcache.NewMemoryCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	live := make(chan *Profile, 1)
	out := relay(ctx, cache, "profile:k", live)
	cancel()
	live <- &Profile{Email: "k", Timezone: "UTC"}
	close(live)

	done := make(chan struct{})
	go func() {
		for range out {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}

	_, err := cache.Get(context.Background(), "profile:k")
	require.ErrorIs(t, err, readcache.ErrMiss)
}
