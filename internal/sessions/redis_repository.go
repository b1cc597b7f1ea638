package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository keeps each mirrored cookie as a hash under <prefix><id>
// that Redis expires together with the token.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository returns a repository; an empty prefix means "session:".
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + id
}

func (r *RedisRepository) Put(ctx context.Context, s *Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	expires := s.ExpiresAt
	if !expires.After(time.Now()) {
		expires = time.Now().Add(time.Second)
	}
	k := r.key(s.ID)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k,
			"token", s.Token,
			"sub", s.Sub,
			"expiresAt", s.ExpiresAt.UTC().Format(time.RFC3339Nano),
			"createdAt", s.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		p.ExpireAt(ctx, k, expires)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put session %s: %w", s.ID, err)
	}
	return nil
}

// Get returns nil, nil when the session is missing or expired.
func (r *RedisRepository) Get(ctx context.Context, id string) (*Session, error) {
	h, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	s := &Session{ID: id, Token: h["token"], Sub: h["sub"]}
	if s.ExpiresAt, err = time.Parse(time.RFC3339Nano, h["expiresAt"]); err != nil {
		return nil, fmt.Errorf("session %s: bad expiresAt: %w", id, err)
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, h["createdAt"])
	if time.Now().After(s.ExpiresAt) {
		_ = r.client.Del(ctx, r.key(id)).Err()
		return nil, nil
	}
	return s, nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}
