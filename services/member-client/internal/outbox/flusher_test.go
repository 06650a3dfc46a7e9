package outbox

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/watch"
)

type fakeConn struct {
	v *watch.Value[bool]
}

func (f fakeConn) Subscribe(ctx context.Context) <-chan bool { return f.v.Subscribe(ctx) }

type countingFlush struct {
	calls chan struct{}
}

func (c *countingFlush) Flush(ctx context.Context) (Result, error) {
	c.calls <- struct{}{}
	return Result{}, nil
}

func expectFlushes(t *testing.T, c *countingFlush, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected flush %d of %d", i+1, n)
		}
	}
	select {
	case <-c.calls:
		t.Fatal("unexpected extra flush")
	case <-time.After(50 * time.Millisecond):
	}
}

func startFlusher(t *testing.T, initial bool) (*watch.Value[bool], *countingFlush) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn := watch.NewComparable(initial)
	c := &countingFlush{calls: make(chan struct{}, 16)}
	f := NewFlusher(c, fakeConn{v: conn}, slog.New(slog.NewTextHandler(io.Discard, nil)), FlusherConfig{})
	go f.Run(ctx)
	return conn, c
}

func TestFlusherOncePerTransition(t *testing.T) {
	conn, c := startFlusher(t, false)
	expectFlushes(t, c, 0)

	conn.Set(true)
	expectFlushes(t, c, 1)

	conn.Set(true)
	expectFlushes(t, c, 0)

	conn.Set(false)
	conn.Set(true)
	conn.Set(false)
	conn.Set(true)
	expectFlushes(t, c, 2)
}

func TestFlusherStartingOnlineFlushesOnce(t *testing.T) {
	_, c := startFlusher(t, true)
	expectFlushes(t, c, 1)
}

func TestFlusherPeriodic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := watch.NewComparable(false)
	c := &countingFlush{calls: make(chan struct{}, 64)}
	f := NewFlusher(c, fakeConn{v: conn}, slog.New(slog.NewTextHandler(io.Discard, nil)), FlusherConfig{Interval: 10 * time.Millisecond})
	go f.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	if len(c.calls) != 0 {
		t.Fatalf("expected no periodic flush while offline, got %d", len(c.calls))
	}
	conn.Set(true)
	deadline := time.After(2 * time.Second)
	for n := 0; n < 3; n++ {
		select {
		case <-c.calls:
		case <-deadline:
			t.Fatal("expected periodic flushes while online")
		}
	}
}
