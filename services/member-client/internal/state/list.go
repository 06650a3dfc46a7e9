// Package state holds observable snapshots for the presentation layer.
package state

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/docstore"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/watch"
)

// Snapshot is an immutable view of a list. Items from the last successful
// load are kept when a later load fails.
type Snapshot[T any] struct {
	Loading   bool      `json:"loading"`
	Items     []T       `json:"items"`
	Err       error     `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source is satisfied by the typed repositories.
type Source[T any] interface {
	Query(ctx context.Context, f docstore.Filter) ([]T, error)
	Changes(ctx context.Context, id string) (<-chan docstore.Change, error)
}

type List[T any] struct {
	src    Source[T]
	filter docstore.Filter
	logger *slog.Logger
	value  *watch.Value[Snapshot[T]]
	now    func() time.Time
}

func NewList[T any](src Source[T], filter docstore.Filter, logger *slog.Logger) *List[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &List[T]{
		src:    src,
		filter: filter,
		logger: logger,
		value:  watch.New[Snapshot[T]](Snapshot[T]{}, nil),
		now:    time.Now,
	}
}

func (l *List[T]) Snapshot() Snapshot[T] {
	return l.value.Get()
}

// Subscribe emits the current snapshot and every later one.
func (l *List[T]) Subscribe(ctx context.Context) <-chan Snapshot[T] {
	return l.value.Subscribe(ctx)
}

// Reload queries the source and publishes the result.
func (l *List[T]) Reload(ctx context.Context) error {
	l.value.Update(func(s Snapshot[T]) Snapshot[T] {
		s.Loading = true
		return s
	})
	items, err := l.src.Query(ctx, l.filter)
	l.value.Update(func(s Snapshot[T]) Snapshot[T] {
		next := Snapshot[T]{Items: s.Items, UpdatedAt: s.UpdatedAt, Err: err}
		if err == nil {
			next.Items = items
			next.UpdatedAt = l.now()
		}
		return next
	})
	return err
}

// Run loads the list and reloads it after every live change until ctx is
// done. Without a change stream it loads once and waits.
func (l *List[T]) Run(ctx context.Context) {
	changes, err := l.src.Changes(ctx, "")
	if err != nil {
		l.logger.Warn("live updates unavailable", "err", err)
	}
	if err := l.Reload(ctx); err != nil {
		l.logger.Warn("list load failed", "err", err)
	}
	if changes == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			drain(changes)
			if err := l.Reload(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("list reload failed", "err", err)
			}
		}
	}
}

// drain discards changes already buffered so a burst costs one reload.
func drain(ch <-chan docstore.Change) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
