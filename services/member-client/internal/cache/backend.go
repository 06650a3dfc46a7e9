package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/docstore"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
)

// Backend wraps a document store with the read cache. Successful reads are
// written through; reads that fail for connectivity reasons are answered from
// the cache when it has an entry.
type Backend struct {
	store  docstore.Store
	cache  Cache
	logger *slog.Logger
}

func NewBackend(store docstore.Store, c Cache, logger *slog.Logger) *Backend {
	if c == nil {
		c = Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{store: store, cache: c, logger: logger}
}

func (b *Backend) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	doc, err := b.store.Get(ctx, collection, id)
	switch {
	case err == nil:
		if cerr := b.cache.PutDoc(ctx, collection, id, doc); cerr != nil {
			b.logger.Warn("cache write failed", "collection", collection, "id", id, "err", cerr)
		}
		return doc, nil
	case errors.Is(err, failure.ErrNotFound):
		_ = b.cache.DeleteDoc(ctx, collection, id)
		return nil, err
	case failure.IsConnectivity(err):
		cached, ok, cerr := b.cache.GetDoc(ctx, collection, id)
		if cerr != nil {
			b.logger.Warn("cache read failed", "collection", collection, "id", id, "err", cerr)
		}
		if ok {
			b.logger.Debug("served from cache", "collection", collection, "id", id)
			return cached, nil
		}
	}
	return nil, err
}

func (b *Backend) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	return b.Query(ctx, collection, docstore.Filter{})
}

func (b *Backend) Query(ctx context.Context, collection string, f docstore.Filter) ([]json.RawMessage, error) {
	key := QueryKey(f)
	docs, err := b.store.Query(ctx, collection, f)
	if err == nil {
		if cerr := b.cache.PutList(ctx, collection, key, docs); cerr != nil {
			b.logger.Warn("cache write failed", "collection", collection, "query", key, "err", cerr)
		}
		return docs, nil
	}
	if failure.IsConnectivity(err) {
		cached, ok, cerr := b.cache.GetList(ctx, collection, key)
		if cerr != nil {
			b.logger.Warn("cache read failed", "collection", collection, "query", key, "err", cerr)
		}
		if ok {
			b.logger.Debug("served from cache", "collection", collection, "query", key)
			return cached, nil
		}
	}
	return nil, err
}

func (b *Backend) Create(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if err := b.store.Create(ctx, collection, id, doc); err != nil {
		return err
	}
	b.refresh(ctx, collection, id)
	return nil
}

func (b *Backend) Update(ctx context.Context, collection, id string, fields json.RawMessage) error {
	if err := b.store.Update(ctx, collection, id, fields); err != nil {
		return err
	}
	b.refresh(ctx, collection, id)
	return nil
}

func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	err := b.store.Delete(ctx, collection, id)
	if err == nil || errors.Is(err, failure.ErrNotFound) {
		_ = b.cache.DeleteDoc(ctx, collection, id)
	}
	return err
}

func (b *Backend) Subscribe(ctx context.Context, collection, id string) (<-chan docstore.Change, error) {
	return b.store.Subscribe(ctx, collection, id)
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.store.Ping(ctx)
}

// refresh re-reads a written document so the cached copy carries server
// timestamps. Failures only cost freshness.
func (b *Backend) refresh(ctx context.Context, collection, id string) {
	doc, err := b.store.Get(ctx, collection, id)
	if err != nil {
		_ = b.cache.DeleteDoc(ctx, collection, id)
		return
	}
	if err := b.cache.PutDoc(ctx, collection, id, doc); err != nil {
		b.logger.Warn("cache write failed", "collection", collection, "id", id, "err", err)
	}
}

var _ docstore.Store = (*Backend)(nil)
