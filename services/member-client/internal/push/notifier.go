package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Notification is the push payload published by the federation.
type Notification struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Type     string `json:"type"`
	DeepLink string `json:"deep_link"`
	EntityID string `json:"entity_id,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification, r Route) error
}

// TerminalNotifier prints notifications as one line each.
type TerminalNotifier struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewTerminalNotifier(w io.Writer) *TerminalNotifier {
	return &TerminalNotifier{w: w, now: time.Now}
}

func (t *TerminalNotifier) Notify(ctx context.Context, n Notification, r Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "[%s] %s: %s (open %s)\n", t.now().Format("15:04"), n.Title, n.Body, r)
	return err
}

// Dispatcher decodes push messages, routes them and hands them to the
// notifier unless notifications are turned off.
type Dispatcher struct {
	router   *Router
	notifier Notifier
	enabled  func() bool
	logger   *slog.Logger
}

func NewDispatcher(router *Router, notifier Notifier, enabled func() bool, logger *slog.Logger) *Dispatcher {
	if enabled == nil {
		enabled = func() bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{router: router, notifier: notifier, enabled: enabled, logger: logger}
}

// Handle is a Handler. Malformed payloads are logged and dropped.
func (d *Dispatcher) Handle(ctx context.Context, msg kafka.Message) error {
	var n Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		d.logger.Error("invalid push payload", "err", err)
		return nil
	}
	n.Title = strings.TrimSpace(n.Title)
	n.Body = strings.TrimSpace(n.Body)
	if n.Title == "" && n.Body == "" {
		d.logger.Error("push payload without title or body", "type", n.Type)
		return nil
	}
	route := d.router.Resolve(n)
	if !d.enabled() {
		d.logger.Debug("push suppressed, notifications disabled", "type", n.Type, "route", route.String())
		return nil
	}
	if err := d.notifier.Notify(ctx, n, route); err != nil {
		return err
	}
	d.logger.Info("push delivered", "type", n.Type, "route", route.String())
	return nil
}
