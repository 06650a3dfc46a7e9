package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/docstore"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
)

// ErrUnknownKind is returned for operations no replayer understands.
var ErrUnknownKind = failure.New(failure.KindValidation, "unknown operation kind")

// Replayer performs one queued operation against the backend.
type Replayer interface {
	Replay(ctx context.Context, op Operation) error
}

type ReplayerFunc func(ctx context.Context, op Operation) error

func (f ReplayerFunc) Replay(ctx context.Context, op Operation) error { return f(ctx, op) }

// DocumentReplayer maps operations onto document store calls. A create that
// conflicts or a delete that finds nothing means an earlier attempt already
// landed, so both count as success.
type DocumentReplayer struct {
	store docstore.Store
}

func NewDocumentReplayer(store docstore.Store) *DocumentReplayer {
	return &DocumentReplayer{store: store}
}

func (r *DocumentReplayer) Replay(ctx context.Context, op Operation) error {
	collection, ok := op.Kind.Collection()
	if !ok {
		return fmt.Errorf("%s: %w", op.Kind, ErrUnknownKind)
	}
	switch op.Kind.Action() {
	case ActionCreate:
		err := r.store.Create(ctx, collection, op.EntityID, op.Payload)
		if errors.Is(err, failure.ErrConflict) {
			return nil
		}
		return err
	case ActionUpdate:
		return r.store.Update(ctx, collection, op.EntityID, op.Payload)
	case ActionDelete:
		err := r.store.Delete(ctx, collection, op.EntityID)
		if errors.Is(err, failure.ErrNotFound) {
			return nil
		}
		return err
	}
	return fmt.Errorf("%s: %w", op.Kind, ErrUnknownKind)
}

// Permanent reports whether retrying err can never succeed.
func Permanent(err error) bool {
	switch failure.Classify(err) {
	case failure.KindValidation, failure.KindPermission, failure.KindNotFound, failure.KindConflict:
		return true
	}
	return false
}
