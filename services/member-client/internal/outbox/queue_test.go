package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/docstore"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/prefs"
)

type recordingReplayer struct {
	mu     sync.Mutex
	calls  []string
	errFor map[string]error
}

func (r *recordingReplayer) Replay(ctx context.Context, op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op.EntityID)
	return r.errFor[op.EntityID]
}

func (r *recordingReplayer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestQueue(t *testing.T, r Replayer, cfg Config) *Queue {
	t.Helper()
	return NewQueue(prefs.OpenMemory(), r, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
}

func enqueue(t *testing.T, q *Queue, kind Kind, entityID string) Operation {
	t.Helper()
	op, err := q.Enqueue(context.Background(), Operation{Kind: kind, EntityID: entityID, Payload: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return op
}

func entityIDs(ops []Operation) []string {
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.EntityID)
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEnqueuePreservesOrder(t *testing.T) {
	q := newTestQueue(t, &recordingReplayer{}, Config{})
	enqueue(t, q, KindCreateEvent, "e1")
	enqueue(t, q, KindCreateNews, "n1")
	enqueue(t, q, KindCreateEvent, "e1")

	pending, err := q.ListPending()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := entityIDs(pending); !equalStrings(got, []string{"e1", "n1", "e1"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if pending[0].ID == "" || pending[0].EnqueuedAt.IsZero() || pending[0].MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected defaults to be filled, got %+v", pending[0])
	}
	if q.Stats().Pending != 3 {
		t.Fatalf("expected 3 pending, got %+v", q.Stats())
	}
}

func TestListPendingEmpty(t *testing.T) {
	q := newTestQueue(t, &recordingReplayer{}, Config{})
	pending, err := q.ListPending()
	if err != nil || pending == nil || len(pending) != 0 {
		t.Fatalf("expected empty list, got %v err=%v", pending, err)
	}
}

func TestFlushEmptyQueueMakesNoCalls(t *testing.T) {
	r := &recordingReplayer{}
	q := newTestQueue(t, r, Config{})
	res, err := q.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(r.Calls()) != 0 || res.Attempted != 0 {
		t.Fatalf("expected no backend calls, got %v", r.Calls())
	}
}

func TestFlushKeepsOnlyFailures(t *testing.T) {
	r := &recordingReplayer{errFor: map[string]error{"p2": errors.New("boom")}}
	q := newTestQueue(t, r, Config{})
	enqueue(t, q, KindCreateEvent, "p1")
	enqueue(t, q, KindCreateEvent, "p2")

	res, err := q.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if res.Succeeded != 1 || res.Retained != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	pending, _ := q.ListPending()
	if got := entityIDs(pending); !equalStrings(got, []string{"p2"}) {
		t.Fatalf("expected [p2], got %v", got)
	}
	if pending[0].Attempts != 1 || pending[0].LastError != "boom" {
		t.Fatalf("expected attempt recorded, got %+v", pending[0])
	}
}

func TestFlushAllSucceed(t *testing.T) {
	r := &recordingReplayer{}
	q := newTestQueue(t, r, Config{})
	enqueue(t, q, KindCreateEvent, "a")
	enqueue(t, q, KindUpdateEvent, "a")
	enqueue(t, q, KindDeleteNews, "b")

	if _, err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := r.Calls(); !equalStrings(got, []string{"a", "a", "b"}) {
		t.Fatalf("expected replay in stored order, got %v", got)
	}
	pending, _ := q.ListPending()
	if len(pending) != 0 || q.Stats().Pending != 0 {
		t.Fatalf("expected empty queue, got %v", pending)
	}
}

func TestFlushAbortsWhenUnreachable(t *testing.T) {
	r := &recordingReplayer{errFor: map[string]error{
		"b": failure.New(failure.KindUnavailable, "offline"),
	}}
	q := newTestQueue(t, r, Config{})
	enqueue(t, q, KindCreateEvent, "a")
	enqueue(t, q, KindCreateEvent, "b")
	enqueue(t, q, KindCreateEvent, "c")

	res, err := q.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !res.Aborted {
		t.Fatalf("expected abort, got %+v", res)
	}
	if got := r.Calls(); !equalStrings(got, []string{"a", "b"}) {
		t.Fatalf("expected replay to stop at b, got %v", got)
	}
	pending, _ := q.ListPending()
	if got := entityIDs(pending); !equalStrings(got, []string{"b", "c"}) {
		t.Fatalf("expected [b c], got %v", got)
	}
	if pending[0].Attempts != 0 {
		t.Fatalf("an unreachable backend must not consume attempts, got %d", pending[0].Attempts)
	}
}

func TestFlushSkipsLaterOpsForRetainedEntity(t *testing.T) {
	r := &recordingReplayer{errFor: map[string]error{"x": errors.New("server error")}}
	q := newTestQueue(t, r, Config{})
	enqueue(t, q, KindCreateEvent, "x")
	enqueue(t, q, KindCreateNews, "y")
	enqueue(t, q, KindUpdateEvent, "x")

	res, err := q.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := r.Calls(); !equalStrings(got, []string{"x", "y"}) {
		t.Fatalf("expected the update of x to be held back, got %v", got)
	}
	if res.Skipped != 1 {
		t.Fatalf("expected one skipped op, got %+v", res)
	}
	pending, _ := q.ListPending()
	if len(pending) != 2 || pending[0].Kind != KindCreateEvent || pending[1].Kind != KindUpdateEvent {
		t.Fatalf("expected create then update of x to remain, got %+v", pending)
	}
	if pending[1].Attempts != 0 {
		t.Fatalf("skipped op must keep its attempts, got %d", pending[1].Attempts)
	}
}

func TestDeadLetterHoldsBackLaterOpsForEntity(t *testing.T) {
	r := &recordingReplayer{errFor: map[string]error{"x": failure.Validation("bad")}}
	q := newTestQueue(t, r, Config{})
	create := enqueue(t, q, KindCreateEvent, "x")
	enqueue(t, q, KindUpdateEvent, "x")
	enqueue(t, q, KindCreateNews, "y")

	res, err := q.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if res.DeadLettered != 1 || res.Skipped != 1 || res.Succeeded != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := q.Flush(context.Background()); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if got := r.Calls(); !equalStrings(got, []string{"x", "y"}) {
		t.Fatalf("expected the update of x to wait for its create, got %v", got)
	}

	r.mu.Lock()
	delete(r.errFor, "x")
	r.mu.Unlock()
	if _, err := q.Retry(context.Background(), create.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	pending, _ := q.ListPending()
	if len(pending) != 2 || pending[0].Kind != KindCreateEvent || pending[1].Kind != KindUpdateEvent {
		t.Fatalf("expected the retried create ahead of the update, got %+v", pending)
	}
	res, err = q.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush after retry: %v", err)
	}
	if res.Succeeded != 2 {
		t.Fatalf("expected both ops of x to replay, got %+v", res)
	}
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	r := &recordingReplayer{errFor: map[string]error{"a": errors.New("boom")}}
	q := newTestQueue(t, r, Config{MaxAttempts: 2})
	enqueue(t, q, KindCreateEvent, "a")

	for i := 0; i < 2; i++ {
		if _, err := q.Flush(context.Background()); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
	}
	pending, _ := q.ListPending()
	failed, _ := q.ListFailed()
	if len(pending) != 0 || len(failed) != 1 {
		t.Fatalf("expected op to be dead-lettered, pending=%v failed=%v", pending, failed)
	}
	if failed[0].Attempts != 2 || failed[0].FailedAt == nil {
		t.Fatalf("unexpected dead-lettered op %+v", failed[0])
	}
	if s := q.Stats(); s.Pending != 0 || s.Failed != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestPermanentErrorDeadLettersImmediately(t *testing.T) {
	r := &recordingReplayer{errFor: map[string]error{"a": failure.ErrNotFound}}
	q := newTestQueue(t, r, Config{})
	enqueue(t, q, KindUpdateEvent, "a")

	res, err := q.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if res.DeadLettered != 1 {
		t.Fatalf("expected dead letter, got %+v", res)
	}
	failed, _ := q.ListFailed()
	if len(failed) != 1 || failed[0].Attempts != 1 {
		t.Fatalf("unexpected failed list %+v", failed)
	}
}

type blockingReplayer struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingReplayer) Replay(ctx context.Context, op Operation) error {
	b.once.Do(func() {
		close(b.started)
		<-b.release
	})
	return nil
}

func TestEnqueueDuringFlushIsKept(t *testing.T) {
	r := &blockingReplayer{started: make(chan struct{}), release: make(chan struct{})}
	q := newTestQueue(t, r, Config{})
	enqueue(t, q, KindCreateEvent, "first")

	done := make(chan error, 1)
	go func() {
		_, err := q.Flush(context.Background())
		done <- err
	}()

	<-r.started
	enqueue(t, q, KindCreateNews, "late")
	close(r.release)
	if err := <-done; err != nil {
		t.Fatalf("flush: %v", err)
	}

	pending, _ := q.ListPending()
	if got := entityIDs(pending); !equalStrings(got, []string{"late"}) {
		t.Fatalf("expected the late op to survive the flush, got %v", got)
	}
}

func TestRetryAndDiscard(t *testing.T) {
	r := &recordingReplayer{errFor: map[string]error{
		"a": failure.Validation("bad"),
		"b": failure.Validation("bad"),
	}}
	q := newTestQueue(t, r, Config{})
	a := enqueue(t, q, KindCreateEvent, "a")
	b := enqueue(t, q, KindCreateEvent, "b")
	if _, err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	op, err := q.Retry(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if op.Attempts != 0 || op.LastError != "" || op.FailedAt != nil {
		t.Fatalf("expected reset op, got %+v", op)
	}
	if err := q.Discard(context.Background(), b.ID); err != nil {
		t.Fatalf("discard: %v", err)
	}

	pending, _ := q.ListPending()
	failed, _ := q.ListFailed()
	if got := entityIDs(pending); !equalStrings(got, []string{"a"}) || len(failed) != 0 {
		t.Fatalf("unexpected lists pending=%v failed=%v", got, failed)
	}
	if _, err := q.Retry(context.Background(), "missing"); !errors.Is(err, failure.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := q.Discard(context.Background(), "missing"); !errors.Is(err, failure.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	kv := prefs.OpenMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := NewQueue(kv, &recordingReplayer{}, logger, Config{})
	if _, err := q.Enqueue(context.Background(), Operation{Kind: KindDeleteTeam, EntityID: "t1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	reopened := NewQueue(kv, &recordingReplayer{}, logger, Config{})
	if reopened.Stats().Pending != 1 {
		t.Fatalf("expected persisted op, got %+v", reopened.Stats())
	}
}

func TestCorruptListIsStorageError(t *testing.T) {
	kv := prefs.OpenMemory()
	if err := kv.Put(PendingKey, "{not json"); err != nil {
		t.Fatalf("put: %v", err)
	}
	q := NewQueue(kv, &recordingReplayer{}, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	if _, err := q.ListPending(); failure.Classify(err) != failure.KindStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestDocumentReplayer(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	r := NewDocumentReplayer(store)

	create := Operation{Kind: KindCreateEvent, EntityID: "e1", Payload: json.RawMessage(`{"title":"Cup"}`)}
	if err := r.Replay(ctx, create); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Replay(ctx, create); err != nil {
		t.Fatalf("replayed create should succeed, got %v", err)
	}

	update := Operation{Kind: KindUpdateEvent, EntityID: "missing", Payload: json.RawMessage(`{"title":"x"}`)}
	if err := r.Replay(ctx, update); !Permanent(err) {
		t.Fatalf("update of missing doc should be permanent, got %v", err)
	}

	del := Operation{Kind: KindDeleteEvent, EntityID: "e1"}
	if err := r.Replay(ctx, del); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.Replay(ctx, del); err != nil {
		t.Fatalf("replayed delete should succeed, got %v", err)
	}

	if err := r.Replay(ctx, Operation{Kind: "archive_event", EntityID: "e1"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
}

func TestKind(t *testing.T) {
	k := NewKind(ActionUpdate, "registration")
	if k != KindUpdateRegistration || k.Action() != ActionUpdate || k.Entity() != "registration" {
		t.Fatalf("unexpected kind parts for %q", k)
	}
	if c, ok := k.Collection(); !ok || c != "registrations" {
		t.Fatalf("unexpected collection %q", c)
	}
	if Kind("create_unicorn").Valid() || Kind("fly_event").Valid() {
		t.Fatal("expected invalid kinds")
	}
}
