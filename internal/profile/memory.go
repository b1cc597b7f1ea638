package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// MemoryStore is an in-process Store used for local runs and unit tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	stats    map[string]*Stats
	pWatch   map[string]map[*feed[*Profile]]struct{}
	sWatch   map[string]map[*feed[*Stats]]struct{}
	updates  []Patch
}

// Patch records one Update call.
type Patch struct {
	Key    string
	Fields map[string]interface{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: map[string]*Profile{},
		stats:    map[string]*Stats{},
		pWatch:   map[string]map[*feed[*Profile]]struct{}{},
		sWatch:   map[string]map[*feed[*Stats]]struct{}{},
	}
}

// Put creates or replaces the profile stored under key and notifies watchers.
func (m *MemoryStore) Put(key string, p *Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := p.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = time.Now().UTC()
	m.profiles[key] = c
	for f := range m.pWatch[key] {
		f.push(c.Clone())
	}
}

// PutStats creates or replaces the stats document under key and notifies watchers.
func (m *MemoryStore) PutStats(key string, s *Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := s.Clone()
	m.stats[key] = c
	for f := range m.sWatch[key] {
		f.push(c.Clone())
	}
}

// Get returns a copy of the stored profile.
func (m *MemoryStore) Get(ctx context.Context, key string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[key]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Updates returns the patches applied so far, oldest first.
func (m *MemoryStore) Updates() []Patch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Patch(nil), m.updates...)
}

func (m *MemoryStore) WatchProfile(ctx context.Context, key string) (<-chan *Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var f *feed[*Profile]
	f = newFeed[*Profile](ctx, func() {
		m.mu.Lock()
		delete(m.pWatch[key], f)
		m.mu.Unlock()
	})
	if m.pWatch[key] == nil {
		m.pWatch[key] = map[*feed[*Profile]]struct{}{}
	}
	m.pWatch[key][f] = struct{}{}
	if p, ok := m.profiles[key]; ok {
		f.push(p.Clone())
	}
	return f.out, nil
}

func (m *MemoryStore) WatchStats(ctx context.Context, key string) (<-chan *Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var f *feed[*Stats]
	f = newFeed[*Stats](ctx, func() {
		m.mu.Lock()
		delete(m.sWatch[key], f)
		m.mu.Unlock()
	})
	if m.sWatch[key] == nil {
		m.sWatch[key] = map[*feed[*Stats]]struct{}{}
	}
	m.sWatch[key][f] = struct{}{}
	if s, ok := m.stats[key]; ok {
		f.push(s.Clone())
	}
	return f.out, nil
}

// Update applies fields (bson field names) to the profile under key.
func (m *MemoryStore) Update(ctx context.Context, key string, fields map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[key]
	if !ok {
		return ErrNotFound
	}
	updated, err := applyFields(p, fields)
	if err != nil {
		return err
	}
	updated.UpdatedAt = time.Now().UTC()
	m.profiles[key] = updated
	m.updates = append(m.updates, Patch{Key: key, Fields: fields})
	for f := range m.pWatch[key] {
		f.push(updated.Clone())
	}
	return nil
}

// Watchers returns the number of open profile subscriptions for key.
func (m *MemoryStore) Watchers(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pWatch[key])
}

// applyFields round-trips p through bson so patches use the same field names as Mongo.
func applyFields(p *Profile, fields map[string]interface{}) (*Profile, error) {
	raw, err := bson.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	raw, err = bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	var out Profile
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	return &out, nil
}
