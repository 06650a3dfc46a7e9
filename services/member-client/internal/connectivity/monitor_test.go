package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func next(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state")
	}
	return false
}

func TestMonitorStartsOffline(t *testing.T) {
	m := NewMonitor(nil, quietLogger(), Config{})
	if m.Online() {
		t.Fatal("expected offline before any probe")
	}
}

func TestSubscribeDedupesEqualValues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor(nil, quietLogger(), Config{})
	ch := m.Subscribe(ctx)
	if next(t, ch) {
		t.Fatal("expected initial offline")
	}
	m.Set(true)
	m.Set(true)
	m.Set(false)
	if !next(t, ch) {
		t.Fatal("expected online")
	}
	if next(t, ch) {
		t.Fatal("expected offline, the repeated true must not be re-emitted")
	}
}

func TestCheckRecordsProbeResult(t *testing.T) {
	var fail atomic.Bool
	probe := ProbeFunc(func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	})
	m := NewMonitor(probe, quietLogger(), Config{})

	if !m.Check(context.Background()) || !m.Online() {
		t.Fatal("expected online after a good probe")
	}
	fail.Store(true)
	if m.Check(context.Background()) || m.Online() {
		t.Fatal("expected offline after a failing probe")
	}
}

func TestCheckBoundsSlowProbe(t *testing.T) {
	probe := ProbeFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m := NewMonitor(probe, quietLogger(), Config{Timeout: 20 * time.Millisecond})
	m.Set(true)

	start := time.Now()
	if m.Check(context.Background()) {
		t.Fatal("expected a timed out probe to count as offline")
	}
	if time.Since(start) > time.Second {
		t.Fatal("probe timeout not applied")
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	probe := ProbeFunc(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	m := NewMonitor(probe, quietLogger(), Config{Interval: 5 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if calls.Load() < 3 {
		t.Fatalf("expected repeated probes, got %d", calls.Load())
	}
	if !m.Online() {
		t.Fatal("expected online")
	}
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds(" db, http ,")
	if err != nil || len(kinds) != 2 || kinds[0] != ProbeDB || kinds[1] != ProbeHTTP {
		t.Fatalf("unexpected kinds %v err=%v", kinds, err)
	}
	if _, err := ParseKinds("db,carrier-pigeon"); err == nil {
		t.Fatal("expected unknown probe to fail")
	}
}

func TestMarkUnreachableMakesNextProbeAReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor(ProbeFunc(func(context.Context) error { return nil }), quietLogger(), Config{})
	if !m.Check(ctx) {
		t.Fatal("expected probe to succeed")
	}
	ch := m.Subscribe(ctx)
	if !next(t, ch) {
		t.Fatal("expected initial online")
	}

	m.MarkUnreachable()
	if next(t, ch) {
		t.Fatal("expected offline after a failed call")
	}
	m.Check(ctx)
	if !next(t, ch) {
		t.Fatal("expected the next probe to report online again")
	}
}

func TestMarkUnreachableWithoutProbeKeepsState(t *testing.T) {
	m := NewMonitor(nil, quietLogger(), Config{})
	m.Set(true)
	m.MarkUnreachable()
	if !m.Online() {
		t.Fatal("without a probe nothing could restore the state, so it must stay online")
	}
}
