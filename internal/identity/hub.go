package identity

import (
	"context"
	"sync"
)

// Hub fans events out to subscribers. Each subscriber has an unbounded queue
// drained by its own goroutine, so Publish never blocks on a slow reader.
type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	resolved bool
	current  *User
}

type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[*subscriber]struct{}{}}
}

// Subscribe returns a channel of events; it is closed once ctx is done.
// If the auth state is already known it is delivered first.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	s := &subscriber{notify: make(chan struct{}, 1)}
	out := make(chan Event)

	h.mu.Lock()
	if h.resolved {
		s.push(Event{Kind: AuthStateChanged, User: copyUser(h.current)})
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer close(out)
		defer h.remove(s)
		for {
			ev, ok := s.pop()
			if !ok {
				select {
				case <-s.notify:
					continue
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Publish delivers ev to every subscriber. AuthStateChanged events also
// update the state replayed to future subscribers.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case ev.Kind == AuthStateChanged:
		h.resolved = true
		h.current = copyUser(ev.User)
	case h.current != nil && ev.User != nil && h.current.UID == ev.User.UID:
		h.current = copyUser(ev.User)
	}
	for s := range h.subs {
		s.push(Event{Kind: ev.Kind, User: copyUser(ev.User)})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
