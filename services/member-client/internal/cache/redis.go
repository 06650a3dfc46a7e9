package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis keeps one hash per collection for documents and one for lists.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "fedsync"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// OpenRedis parses a redis:// URL and connects lazily.
func OpenRedis(url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), prefix), nil
}

func (r *Redis) docsKey(collection string) string  { return r.prefix + ":docs:" + collection }
func (r *Redis) listsKey(collection string) string { return r.prefix + ":lists:" + collection }

func (r *Redis) GetDoc(ctx context.Context, collection, id string) (json.RawMessage, bool, error) {
	data, err := r.rdb.HGet(ctx, r.docsKey(collection), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(data), true, nil
}

func (r *Redis) PutDoc(ctx context.Context, collection, id string, doc json.RawMessage) error {
	return r.rdb.HSet(ctx, r.docsKey(collection), id, string(doc)).Err()
}

func (r *Redis) DeleteDoc(ctx context.Context, collection, id string) error {
	return r.rdb.HDel(ctx, r.docsKey(collection), id).Err()
}

func (r *Redis) GetList(ctx context.Context, collection, key string) ([]json.RawMessage, bool, error) {
	data, err := r.rdb.HGet(ctx, r.listsKey(collection), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var docs []json.RawMessage
	if err := json.Unmarshal([]byte(data), &docs); err != nil {
		return nil, false, fmt.Errorf("decode cached list: %w", err)
	}
	return docs, true, nil
}

func (r *Redis) PutList(ctx context.Context, collection, key string, docs []json.RawMessage) error {
	if docs == nil {
		docs = []json.RawMessage{}
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	return r.rdb.HSet(ctx, r.listsKey(collection), key, string(data)).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

var _ Cache = (*Redis)(nil)
