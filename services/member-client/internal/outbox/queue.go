// Package outbox holds writes made while the backend is unreachable and
// replays them, in order, once it is reachable again.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/fedsync/libs/otel"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/prefs"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/watch"
)

// Preference keys holding the JSON encoded lists.
const (
	PendingKey = "outbox.pending"
	FailedKey  = "outbox.failed"
)

const DefaultMaxAttempts = 5

type Config struct {
	MaxAttempts int
}

// Stats is a point-in-time count of both lists.
type Stats struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// Result summarises one flush.
type Result struct {
	Attempted    int  `json:"attempted"`
	Succeeded    int  `json:"succeeded"`
	Retained     int  `json:"retained"`
	DeadLettered int  `json:"dead_lettered"`
	Skipped      int  `json:"skipped"`
	Aborted      bool `json:"aborted"`
}

type Queue struct {
	kv          prefs.KV
	replayer    Replayer
	logger      *slog.Logger
	tracer      trace.Tracer
	maxAttempts int
	now         func() time.Time

	// mu guards every read-modify-write of the two lists.
	mu sync.Mutex
	// flushMu serialises flushes.
	flushMu sync.Mutex
	stats   *watch.Value[Stats]
}

func NewQueue(kv prefs.KV, replayer Replayer, logger *slog.Logger, cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		kv:          kv,
		replayer:    replayer,
		logger:      logger,
		tracer:      otelx.Tracer("fedsync/outbox"),
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
		stats:       watch.NewComparable(Stats{}),
	}
	q.mu.Lock()
	pending, perr := q.load(PendingKey)
	failed, ferr := q.load(FailedKey)
	q.mu.Unlock()
	if perr != nil || ferr != nil {
		logger.Warn("outbox lists unreadable", "pending_err", perr, "failed_err", ferr)
	}
	q.stats.Set(Stats{Pending: len(pending), Failed: len(failed)})
	return q
}

// Enqueue appends op to the pending list. Missing id, timestamp, attempt
// limit and trace context are filled in; the payload is stored as given.
func (q *Queue) Enqueue(ctx context.Context, op Operation) (Operation, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.now().UTC()
	}
	if op.MaxAttempts <= 0 {
		op.MaxAttempts = q.maxAttempts
	}
	if op.Traceparent == "" {
		op.Traceparent, op.Tracestate = otelx.TraceContextStrings(ctx)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	pending, err := q.load(PendingKey)
	if err != nil {
		return Operation{}, err
	}
	pending = append(pending, op)
	if err := q.save(PendingKey, pending); err != nil {
		return Operation{}, err
	}
	q.updateStats(len(pending), -1)
	q.logger.Info("operation queued", "op_id", op.ID, "kind", op.Kind, "entity_id", op.EntityID)
	return op, nil
}

func (q *Queue) ListPending() ([]Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(PendingKey)
}

func (q *Queue) ListFailed() ([]Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(FailedKey)
}

func (q *Queue) Stats() Stats {
	return q.stats.Get()
}

// WatchStats emits the current counts and every change.
func (q *Queue) WatchStats(ctx context.Context) <-chan Stats {
	return q.stats.Subscribe(ctx)
}

type outcome struct {
	op         Operation
	done       bool
	deadLetter bool
}

// Flush replays a snapshot of the pending list in order. Backend calls run
// without holding the list lock; results are merged into the list as it is
// at the end, so operations enqueued meanwhile stay queued behind it.
func (q *Queue) Flush(ctx context.Context) (Result, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	snapshot, err := q.ListPending()
	if err != nil {
		return Result{}, err
	}
	if len(snapshot) == 0 {
		return Result{}, nil
	}
	failed, err := q.ListFailed()
	if err != nil {
		return Result{}, err
	}

	ctx, span := q.tracer.Start(ctx, "outbox.flush", trace.WithAttributes(attribute.Int("outbox.pending", len(snapshot))))
	defer span.End()

	var res Result
	outcomes := make(map[string]outcome, len(snapshot))
	// Operations behind a dead-lettered one for the same entity wait until it
	// is retried or discarded.
	blocked := map[string]bool{}
	for _, op := range failed {
		blocked[op.entityKey()] = true
	}
	for _, op := range snapshot {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}
		if blocked[op.entityKey()] {
			res.Skipped++
			continue
		}

		res.Attempted++
		err := q.replay(ctx, op)
		switch {
		case err == nil:
			outcomes[op.ID] = outcome{op: op, done: true}
			res.Succeeded++
			continue
		case failure.IsConnectivity(err) || ctx.Err() != nil:
			q.logger.Info("flush stopped, backend unreachable", "op_id", op.ID, "err", err)
			res.Attempted--
			res.Aborted = true
		default:
			op.Attempts++
			op.LastError = err.Error()
			if Permanent(err) || op.Attempts >= op.MaxAttempts {
				failedAt := q.now().UTC()
				op.FailedAt = &failedAt
				outcomes[op.ID] = outcome{op: op, deadLetter: true}
				blocked[op.entityKey()] = true
				res.DeadLettered++
				q.logger.Warn("operation dead-lettered", "op_id", op.ID, "kind", op.Kind, "entity_id", op.EntityID, "attempts", op.Attempts, "err", err)
			} else {
				outcomes[op.ID] = outcome{op: op}
				blocked[op.entityKey()] = true
				res.Retained++
				q.logger.Warn("operation failed, will retry", "op_id", op.ID, "kind", op.Kind, "entity_id", op.EntityID, "attempts", op.Attempts, "err", err)
			}
			continue
		}
		break
	}

	if err := q.merge(outcomes); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge failed")
		return res, err
	}
	span.SetAttributes(
		attribute.Int("outbox.succeeded", res.Succeeded),
		attribute.Int("outbox.retained", res.Retained),
		attribute.Int("outbox.dead_lettered", res.DeadLettered),
		attribute.Bool("outbox.aborted", res.Aborted),
	)
	q.logger.Info("flush finished", "attempted", res.Attempted, "succeeded", res.Succeeded,
		"retained", res.Retained, "dead_lettered", res.DeadLettered, "skipped", res.Skipped, "aborted", res.Aborted)
	return res, nil
}

func (q *Queue) replay(ctx context.Context, op Operation) error {
	opCtx := otelx.ContextWithTraceContext(ctx, op.Traceparent, op.Tracestate)
	opCtx, span := q.tracer.Start(opCtx, "outbox.replay", trace.WithAttributes(
		attribute.String("outbox.op_id", op.ID),
		attribute.String("outbox.kind", string(op.Kind)),
		attribute.String("outbox.entity_id", op.EntityID),
	))
	defer span.End()

	err := q.replayer.Replay(opCtx, op)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(failure.Classify(err)))
	}
	return err
}

// merge applies flush outcomes to the current lists. The failed list is
// written before the pending list so a crash in between duplicates an
// operation instead of losing it.
func (q *Queue) merge(outcomes map[string]outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(PendingKey)
	if err != nil {
		return err
	}
	failed, err := q.load(FailedKey)
	if err != nil {
		return err
	}

	pending := make([]Operation, 0, len(current))
	dead := 0
	for _, op := range current {
		o, ok := outcomes[op.ID]
		switch {
		case !ok:
			pending = append(pending, op)
		case o.done:
		case o.deadLetter:
			failed = append(failed, o.op)
			dead++
		default:
			pending = append(pending, o.op)
		}
	}

	if dead > 0 {
		if err := q.save(FailedKey, failed); err != nil {
			return err
		}
	}
	if err := q.save(PendingKey, pending); err != nil {
		return err
	}
	q.updateStats(len(pending), len(failed))
	return nil
}

// Retry moves a dead-lettered operation back to pending with its attempts
// reset. It goes ahead of any pending operation for the same entity, else to
// the end.
func (q *Queue) Retry(ctx context.Context, id string) (Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	failed, err := q.load(FailedKey)
	if err != nil {
		return Operation{}, err
	}
	idx := indexOf(failed, id)
	if idx < 0 {
		return Operation{}, fmt.Errorf("failed operation %s: %w", id, failure.ErrNotFound)
	}
	op := failed[idx]
	op.Attempts = 0
	op.LastError = ""
	op.FailedAt = nil

	pending, err := q.load(PendingKey)
	if err != nil {
		return Operation{}, err
	}
	at := len(pending)
	for i, p := range pending {
		if p.entityKey() == op.entityKey() {
			at = i
			break
		}
	}
	pending = append(pending[:at], append([]Operation{op}, pending[at:]...)...)
	if err := q.save(PendingKey, pending); err != nil {
		return Operation{}, err
	}
	failed = append(failed[:idx], failed[idx+1:]...)
	if err := q.save(FailedKey, failed); err != nil {
		return Operation{}, err
	}
	q.updateStats(len(pending), len(failed))
	q.logger.Info("operation requeued", "op_id", op.ID, "kind", op.Kind)
	return op, nil
}

// Discard drops a dead-lettered operation for good.
func (q *Queue) Discard(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	failed, err := q.load(FailedKey)
	if err != nil {
		return err
	}
	idx := indexOf(failed, id)
	if idx < 0 {
		return fmt.Errorf("failed operation %s: %w", id, failure.ErrNotFound)
	}
	failed = append(failed[:idx], failed[idx+1:]...)
	if err := q.save(FailedKey, failed); err != nil {
		return err
	}
	q.updateStats(-1, len(failed))
	q.logger.Info("operation discarded", "op_id", id)
	return nil
}

func (q *Queue) load(key string) ([]Operation, error) {
	raw, ok, err := q.kv.Get(key)
	if err != nil {
		return nil, failure.Wrap(failure.KindStorage, "outbox load", err)
	}
	ops := []Operation{}
	if !ok || raw == "" {
		return ops, nil
	}
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return nil, failure.Wrap(failure.KindStorage, "outbox decode "+key, err)
	}
	return ops, nil
}

func (q *Queue) save(key string, ops []Operation) error {
	if ops == nil {
		ops = []Operation{}
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return failure.Wrap(failure.KindStorage, "outbox encode", err)
	}
	if err := q.kv.Put(key, string(raw)); err != nil {
		return failure.Wrap(failure.KindStorage, "outbox save", err)
	}
	return nil
}

// updateStats must be called with q.mu held; a negative count keeps the
// previous value.
func (q *Queue) updateStats(pending, failed int) {
	q.stats.Update(func(s Stats) Stats {
		if pending >= 0 {
			s.Pending = pending
		}
		if failed >= 0 {
			s.Failed = failed
		}
		return s
	})
}

func indexOf(ops []Operation, id string) int {
	for i, op := range ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}
