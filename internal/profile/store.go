// Package profile holds the profile and profile-stats documents and the
// stores that deliver them as live subscriptions.
package profile

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("profile not found")

// Store delivers profile documents reactively and applies field patches.
// Watch channels are closed when ctx is cancelled; deliveries keep per-key order.
type Store interface {
	WatchProfile(ctx context.Context, key string) (<-chan *Profile, error)
	WatchStats(ctx context.Context, key string) (<-chan *Stats, error)
	Update(ctx context.Context, key string, fields map[string]interface{}) error
}
