package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/prefs"
)

type fakeReader struct {
	msgs   chan kafka.Message
	closed chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs)), closed: make(chan struct{})}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error {
	close(r.closed)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	routes []Route
	done   chan struct{}
}

func (n *recordingNotifier) Notify(ctx context.Context, _ Notification, r Route) error {
	n.mu.Lock()
	n.routes = append(n.routes, r)
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

func pushMessage(t *testing.T, eventID string, n Notification) kafka.Message {
	t.Helper()
	body, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{
		Topic:   "federation.push.v1",
		Value:   body,
		Headers: []kafka.Header{{Key: "event_id", Value: []byte(eventID)}},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsumerDeliversOnceAndDedupes(t *testing.T) {
	router, err := LoadRouter("")
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	notifier := &recordingNotifier{done: make(chan struct{}, 8)}
	dispatcher := NewDispatcher(router, notifier, nil, quietLogger())

	n := Notification{Title: "Match moved", Body: "Kickoff 18:00", Type: "match_scheduled", DeepLink: "fedapp://match/m1"}
	reader := newFakeReader(
		pushMessage(t, "evt-1", n),
		pushMessage(t, "evt-1", n),
		pushMessage(t, "evt-2", Notification{Title: "News", Type: "news_published", EntityID: "n9"}),
	)
	c := NewConsumer(quietLogger(), NewPrefsInbox(prefs.OpenMemory(), 10), reader, dispatcher.Handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-notifier.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected delivery %d", i+1)
		}
	}
	select {
	case <-notifier.done:
		t.Fatal("duplicate event delivered")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	<-done

	select {
	case <-reader.closed:
	default:
		t.Fatal("expected reader to be closed")
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.routes[0] != (Route{Screen: "match", ID: "m1"}) || notifier.routes[1] != (Route{Screen: "news", ID: "n9"}) {
		t.Fatalf("unexpected routes %v", notifier.routes)
	}
}

func TestDispatcherSuppressedWhenDisabled(t *testing.T) {
	router, _ := LoadRouter("")
	var out bytes.Buffer
	store := prefs.OpenMemory()
	if err := store.SetBool(prefs.KeyNotificationsEnabled, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	d := NewDispatcher(router, NewTerminalNotifier(&out), store.NotificationsEnabled, quietLogger())

	msg := pushMessage(t, "e", Notification{Title: "Hi", Body: "there"})
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing shown, got %q", out.String())
	}

	if err := store.SetBool(prefs.KeyNotificationsEnabled, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(out.String(), "Hi: there (open home)") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestDispatcherDropsMalformedPayloads(t *testing.T) {
	router, _ := LoadRouter("")
	notifier := &recordingNotifier{done: make(chan struct{}, 1)}
	d := NewDispatcher(router, notifier, nil, quietLogger())
	for _, body := range []string{"not json", `{"type":"news_published"}`} {
		if err := d.Handle(context.Background(), kafka.Message{Value: []byte(body)}); err != nil {
			t.Fatalf("expected malformed payload to be dropped, got %v", err)
		}
	}
	if len(notifier.routes) != 0 {
		t.Fatal("malformed payloads must not notify")
	}
}

type failingInbox struct{}

func (failingInbox) Record(context.Context, string, string) (bool, error) {
	return false, errors.New("disk full")
}

func TestConsumerSkipsWhenInboxFails(t *testing.T) {
	called := false
	c := NewConsumer(quietLogger(), failingInbox{}, newFakeReader(), func(context.Context, kafka.Message) error {
		called = true
		return nil
	})
	c.handle(context.Background(), pushMessage(t, "evt", Notification{Title: "x"}))
	if called {
		t.Fatal("handler must not run when the inbox cannot record")
	}
}

func TestPrefsInboxBounded(t *testing.T) {
	inbox := NewPrefsInbox(prefs.OpenMemory(), 2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if ok, err := inbox.Record(ctx, id, "t"); err != nil || !ok {
			t.Fatalf("record %s: ok=%v err=%v", id, ok, err)
		}
	}
	if ok, _ := inbox.Record(ctx, "c", "t"); ok {
		t.Fatal("expected c to be a duplicate")
	}
	if ok, _ := inbox.Record(ctx, "a", "t"); !ok {
		t.Fatal("expected a to have been evicted")
	}
}
