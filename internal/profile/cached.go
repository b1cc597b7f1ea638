package profile

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stagepass/session-service/internal/readcache"
	"github.com/stagepass/session-service/pkg/logger"
)

// CachedStore replays the last cached snapshot before live deliveries and
// writes every live delivery back to the cache.
type CachedStore struct {
	inner Store
	cache readcache.Cache
}

func NewCachedStore(inner Store, cache readcache.Cache) *CachedStore {
	return &CachedStore{inner: inner, cache: cache}
}

func (s *CachedStore) WatchProfile(ctx context.Context, key string) (<-chan *Profile, error) {
	live, err := s.inner.WatchProfile(ctx, key)
	if err != nil {
		return nil, err
	}
	return relay(ctx, s.cache, "profile:"+key, live), nil
}

func (s *CachedStore) WatchStats(ctx context.Context, key string) (<-chan *Stats, error) {
	live, err := s.inner.WatchStats(ctx, key)
	if err != nil {
		return nil, err
	}
	return relay(ctx, s.cache, "stats:"+key, live), nil
}

func (s *CachedStore) Update(ctx context.Context, key string, fields map[string]interface{}) error {
	return s.inner.Update(ctx, key, fields)
}

func relay[T any](ctx context.Context, cache readcache.Cache, cacheKey string, live <-chan *T) <-chan *T {
	out := make(chan *T)
	go func() {
		defer close(out)
		if cached := readCached[T](ctx, cache, cacheKey); cached != nil {
			select {
			case out <- cached:
			case <-ctx.Done():
				return
			}
		}
		for v := range live {
			// a delivery racing cancellation must not repopulate a cleared cache
			if ctx.Err() != nil {
				return
			}
			if b, err := json.Marshal(v); err == nil {
				if err := cache.Put(ctx, cacheKey, b); err != nil {
					logger.Warnf("profile: cache put %s: %v", cacheKey, err)
				}
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func readCached[T any](ctx context.Context, cache readcache.Cache, key string) *T {
	b, err := cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, readcache.ErrMiss) {
			logger.Warnf("profile: cache get %s: %v", key, err)
		}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		logger.Warnf("profile: cache decode %s: %v", key, err)
		return nil
	}
	return &v
}

// Get reads through to the wrapped store when it supports point reads.
func (s *CachedStore) Get(ctx context.Context, key string) (*Profile, error) {
	g, ok := s.inner.(interface {
		Get(ctx context.Context, key string) (*Profile, error)
	})
	if !ok {
		return nil, errors.New("profile: store does not support point reads")
	}
	return g.Get(ctx, key)
}
