package profile

import (
	"context"
	"sync"
)

// feed is a single subscription: an unbounded queue drained into out by one
// goroutine, so publishers never block on a slow reader.
type feed[T any] struct {
	mu     sync.Mutex
	queue  []T
	notify chan struct{}
	out    chan T
}

func newFeed[T any](ctx context.Context, onDone func()) *feed[T] {
	f := &feed[T]{notify: make(chan struct{}, 1), out: make(chan T)}
	go f.pump(ctx, onDone)
	return f
}

func (f *feed[T]) push(v T) {
	f.mu.Lock()
	f.queue = append(f.queue, v)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *feed[T]) pop() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	if len(f.queue) == 0 {
		return zero, false
	}
	v := f.queue[0]
	f.queue[0] = zero
	f.queue = f.queue[1:]
	return v, true
}

func (f *feed[T]) pump(ctx context.Context, onDone func()) {
	defer close(f.out)
	if onDone != nil {
		defer onDone()
	}
	for {
		v, ok := f.pop()
		if !ok {
			select {
			case <-f.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case f.out <- v:
		case <-ctx.Done():
			return
		}
	}
}
