package readcache

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_PutGetClear(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "profile:a")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Put(ctx, "profile:a", []byte(`{"email":"a"}`)))
	got, err := c.Get(ctx, "profile:a")
	require.NoError(t, err)
	require.JSONEq(t, `{"email":"a"}`, string(got))

	require.NoError(t, c.Clear(ctx))
	require.Equal(t, 0, c.Len())
	_, err = c.Get(ctx, "profile:a")
	require.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache_TTL(t *testing.T) {
	c := NewMemoryCache(10 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", []byte("v")))
	time.Sleep(20 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache_PutGetClear(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	c := NewRedisCache(client, "test:rc:", time.Minute)
	ctx := context.Background()

	for _, k := range []string{"profile:a", "stats:a", "profile:b"} {
		require.NoError(t, c.Put(ctx, k, []byte(k)))
	}
	// a key outside the prefix must survive Clear
	require.NoError(t, m.Set("other:key", "keep"))

	got, err := c.Get(ctx, "stats:a")
	require.NoError(t, err)
	require.Equal(t, "stats:a", string(got))

	require.NoError(t, c.Clear(ctx))
	_, err = c.Get(ctx, "profile:a")
	require.ErrorIs(t, err, ErrMiss)
	require.True(t, m.Exists("other:key"))
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	c := NewRedisCache(client, "", time.Second)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v")))
	m.FastForward(2 * time.Second)

	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache_ClearIsScopedToSession(t *testing.T) {
	m := mr.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	one := NewRedisCache(client, SessionPrefix("s1"), time.Minute)
	two := NewRedisCache(client, SessionPrefix("s2"), time.Minute)
	ctx := context.Background()

	require.NoError(t, one.Put(ctx, "profile:a", []byte("1")))
	require.NoError(t, two.Put(ctx, "profile:a", []byte("2")))
	require.True(t, m.Exists("readcache:s1:profile:a"))

	require.NoError(t, one.Clear(ctx))
	_, err := one.Get(ctx, "profile:a")
	require.ErrorIs(t, err, ErrMiss)

	got, err := two.Get(ctx, "profile:a")
	require.NoError(t, err)
	require.Equal(t, "2", string(got))
}
