// Package analytics binds the signed-in user to the analytics pipeline and
// records lifecycle events.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker is the analytics sink used by the session manager.
type Tracker interface {
	// Identify binds id to subsequent events.
	Identify(ctx context.Context, id string, traits map[string]interface{}) error
	Track(ctx context.Context, event string, props map[string]interface{}) error
	// Reset clears the bound identity.
	Reset(ctx context.Context) error
	// Identity returns the currently bound id, "" when anonymous.
	Identity() string
}

// RedisTracker appends analytics records to a Redis stream for the
// downstream collector.
type RedisTracker struct {
	client *redis.Client
	stream string
	maxLen int64

	mu       sync.RWMutex
	identity string
}

func NewRedisTracker(client *redis.Client, stream string) *RedisTracker {
	if stream == "" {
		stream = "analytics:events"
	}
	return &RedisTracker{client: client, stream: stream, maxLen: 100000}
}

func (r *RedisTracker) Identity() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identity
}

func (r *RedisTracker) Identify(ctx context.Context, id string, traits map[string]interface{}) error {
	if err := r.add(ctx, "identify", id, "", traits); err != nil {
		return err
	}
	r.mu.Lock()
	r.identity = id
	r.mu.Unlock()
	return nil
}

func (r *RedisTracker) Track(ctx context.Context, event string, props map[string]interface{}) error {
	return r.add(ctx, "track", r.Identity(), event, props)
}

func (r *RedisTracker) Reset(ctx context.Context) error {
	r.mu.Lock()
	prev := r.identity
	r.identity = ""
	r.mu.Unlock()
	return r.add(ctx, "reset", prev, "", nil)
}

func (r *RedisTracker) add(ctx context.Context, kind, id, event string, data map[string]interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode analytics payload: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":   kind,
			"userId": id,
			"event":  event,
			"data":   string(payload),
			"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("analytics %s: %w", kind, err)
	}
	return nil
}

// NopTracker keeps the bound identity but sends nothing.
type NopTracker struct {
	mu       sync.RWMutex
	identity string
}

func (n *NopTracker) Identify(ctx context.Context, id string, traits map[string]interface{}) error {
	n.mu.Lock()
	n.identity = id
	n.mu.Unlock()
	return nil
}

func (n *NopTracker) Track(ctx context.Context, event string, props map[string]interface{}) error {
	return nil
}

func (n *NopTracker) Reset(ctx context.Context) error {
	n.mu.Lock()
	n.identity = ""
	n.mu.Unlock()
	return nil
}

func (n *NopTracker) Identity() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.identity
}
