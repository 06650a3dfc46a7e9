// Package watch provides an observable value with per-subscriber queues.
package watch

import (
	"context"
	"sync"
)

// Value holds a current value and fans every change out to subscribers.
// Each subscriber sees every change in order; slow readers are buffered,
// never skipped.
type Value[T any] struct {
	mu    sync.Mutex
	cur   T
	equal func(a, b T) bool
	subs  map[*subscriber[T]]struct{}
}

type subscriber[T any] struct {
	queue []T
	wake  chan struct{}
}

// New returns a Value starting at initial. When equal is non-nil, a Set with
// an equal value is dropped.
func New[T any](initial T, equal func(a, b T) bool) *Value[T] {
	return &Value[T]{cur: initial, equal: equal, subs: map[*subscriber[T]]struct{}{}}
}

// NewComparable is New with == as the equality.
func NewComparable[T comparable](initial T) *Value[T] {
	return New(initial, func(a, b T) bool { return a == b })
}

func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores x and reports whether subscribers were notified.
func (v *Value[T]) Set(x T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setLocked(x)
}

// Update applies fn to the current value under the lock.
func (v *Value[T]) Update(fn func(T) T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setLocked(fn(v.cur))
}

func (v *Value[T]) setLocked(x T) bool {
	if v.equal != nil && v.equal(v.cur, x) {
		return false
	}
	v.cur = x
	for s := range v.subs {
		s.queue = append(s.queue, x)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return true
}

// Subscribe emits the current value, then every change, until ctx is done.
// The channel is closed afterwards.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	s := &subscriber[T]{wake: make(chan struct{}, 1)}
	out := make(chan T)

	v.mu.Lock()
	s.queue = append(s.queue, v.cur)
	v.subs[s] = struct{}{}
	v.mu.Unlock()

	go func() {
		defer close(out)
		defer v.remove(s)
		for {
			v.mu.Lock()
			if len(s.queue) == 0 {
				v.mu.Unlock()
				select {
				case <-ctx.Done():
					return
				case <-s.wake:
				}
				continue
			}
			next := s.queue[0]
			var zero T
			s.queue[0] = zero
			s.queue = s.queue[1:]
			v.mu.Unlock()

			select {
			case out <- next:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Subscribers reports the number of live subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

func (v *Value[T]) remove(s *subscriber[T]) {
	v.mu.Lock()
	delete(v.subs, s)
	v.mu.Unlock()
}
