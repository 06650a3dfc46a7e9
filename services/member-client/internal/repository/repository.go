// Package repository exposes typed access to each collection. Writes go to
// the backend when it is reachable and to the outbox when it is not.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/docstore"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/outbox"
)

// WriteResult reports where a write went. Queued writes reach the backend on
// a later flush.
type WriteResult struct {
	ID     string `json:"id"`
	Queued bool   `json:"queued"`
}

type Enqueuer interface {
	Enqueue(ctx context.Context, op outbox.Operation) (outbox.Operation, error)
}

type OnlineChecker interface {
	Online() bool
	MarkUnreachable()
}

type Deps struct {
	Store  docstore.Store
	Queue  Enqueuer
	Conn   OnlineChecker
	Logger *slog.Logger
}

// Repo is the shared implementation behind every typed repository.
type Repo[T any] struct {
	store          docstore.Store
	queue          Enqueuer
	conn           OnlineChecker
	logger         *slog.Logger
	collection     string
	entity         string
	validate       func(T) error
	validateFields func(map[string]any) error
}

func newRepo[T any](d Deps, collection, entity string, validate func(T) error, validateFields func(map[string]any) error) *Repo[T] {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if validateFields == nil {
		validateFields = nonEmptyFields
	}
	return &Repo[T]{
		store:          d.Store,
		queue:          d.Queue,
		conn:           d.Conn,
		logger:         logger,
		collection:     collection,
		entity:         entity,
		validate:       validate,
		validateFields: validateFields,
	}
}

func (r *Repo[T]) Collection() string { return r.collection }

func (r *Repo[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if strings.TrimSpace(id) == "" {
		return zero, failure.Validation("An id is required.")
	}
	raw, err := r.store.Get(ctx, r.collection, id)
	if err != nil {
		return zero, r.wrap("get", err)
	}
	return decode[T](raw)
}

func (r *Repo[T]) List(ctx context.Context) ([]T, error) {
	return r.Query(ctx, docstore.Filter{})
}

func (r *Repo[T]) Query(ctx context.Context, f docstore.Filter) ([]T, error) {
	raws, err := r.store.Query(ctx, r.collection, f)
	if err != nil {
		return nil, r.wrap("query", err)
	}
	return decodeAll[T](raws)
}

// Create validates doc, assigns an id when it has none and writes it.
func (r *Repo[T]) Create(ctx context.Context, doc T) (WriteResult, error) {
	if r.validate != nil {
		if err := r.validate(doc); err != nil {
			return WriteResult{}, err
		}
	}
	fields, err := toFields(doc)
	if err != nil {
		return WriteResult{}, failure.Wrap(failure.KindInternal, "encode "+r.entity, err)
	}
	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	delete(fields, "id")
	delete(fields, "created_at")
	delete(fields, "updated_at")
	payload, err := json.Marshal(fields)
	if err != nil {
		return WriteResult{}, failure.Wrap(failure.KindInternal, "encode "+r.entity, err)
	}
	return r.write(ctx, outbox.ActionCreate, id, payload, func(ctx context.Context) error {
		return r.store.Create(ctx, r.collection, id, payload)
	})
}

// Update merges fields into the document.
func (r *Repo[T]) Update(ctx context.Context, id string, fields map[string]any) (WriteResult, error) {
	if strings.TrimSpace(id) == "" {
		return WriteResult{}, failure.Validation("An id is required.")
	}
	if err := r.validateFields(fields); err != nil {
		return WriteResult{}, err
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return WriteResult{}, failure.Wrap(failure.KindValidation, "encode "+r.entity, err)
	}
	return r.write(ctx, outbox.ActionUpdate, id, payload, func(ctx context.Context) error {
		return r.store.Update(ctx, r.collection, id, payload)
	})
}

func (r *Repo[T]) Delete(ctx context.Context, id string) (WriteResult, error) {
	if strings.TrimSpace(id) == "" {
		return WriteResult{}, failure.Validation("An id is required.")
	}
	return r.write(ctx, outbox.ActionDelete, id, nil, func(ctx context.Context) error {
		return r.store.Delete(ctx, r.collection, id)
	})
}

// Changes streams live changes to the collection, or one document.
func (r *Repo[T]) Changes(ctx context.Context, id string) (<-chan docstore.Change, error) {
	ch, err := r.store.Subscribe(ctx, r.collection, id)
	if err != nil {
		return nil, r.wrap("subscribe", err)
	}
	return ch, nil
}

// Watch emits the document now and after every change. The stream ends when
// the document is deleted or ctx is done.
func (r *Repo[T]) Watch(ctx context.Context, id string) (<-chan T, error) {
	ctx, cancel := context.WithCancel(ctx)
	changes, err := r.Changes(ctx, id)
	if err != nil {
		cancel()
		return nil, err
	}
	first, err := r.Get(ctx, id)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan T, 1)
	out <- first
	go func() {
		defer close(out)
		defer cancel()
		for c := range changes {
			if c.Op == docstore.OpDelete {
				return
			}
			doc, err := decode[T](c.Data)
			if err != nil {
				r.logger.Warn("undecodable change", "collection", r.collection, "id", c.ID, "err", err)
				continue
			}
			select {
			case out <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *Repo[T]) write(ctx context.Context, action, id string, payload json.RawMessage, call func(context.Context) error) (WriteResult, error) {
	if r.conn != nil && !r.conn.Online() {
		return r.enqueue(ctx, action, id, payload)
	}
	err := call(ctx)
	if err == nil {
		return WriteResult{ID: id}, nil
	}
	if failure.IsConnectivity(err) && ctx.Err() == nil {
		r.logger.Info("backend unreachable, queueing write", "collection", r.collection, "id", id, "err", err)
		if r.conn != nil {
			r.conn.MarkUnreachable()
		}
		return r.enqueue(ctx, action, id, payload)
	}
	return WriteResult{}, r.wrap(action, err)
}

func (r *Repo[T]) enqueue(ctx context.Context, action, id string, payload json.RawMessage) (WriteResult, error) {
	if r.queue == nil {
		return WriteResult{}, failure.New(failure.KindUnavailable, "The service is unreachable.")
	}
	_, err := r.queue.Enqueue(ctx, outbox.Operation{
		Kind:     outbox.NewKind(action, r.entity),
		EntityID: id,
		Payload:  payload,
	})
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{ID: id, Queued: true}, nil
}

func (r *Repo[T]) wrap(op string, err error) error {
	return failure.Wrap(failure.Classify(err), fmt.Sprintf("%s %s", op, r.entity), err)
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, failure.Wrap(failure.KindInternal, "decode document", err)
	}
	return v, nil
}

func decodeAll[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		v, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func toFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func nonEmptyFields(fields map[string]any) error {
	if len(fields) == 0 {
		return failure.Validation("Nothing to update.")
	}
	return nil
}
