// Package cache keeps the last known copy of backend reads on the device so
// screens still render while offline.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/docstore"
)

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverNone   = "none"
)

// Cache stores single documents by id and list results by query key.
// A miss is reported with ok == false, never as an error.
type Cache interface {
	GetDoc(ctx context.Context, collection, id string) (json.RawMessage, bool, error)
	PutDoc(ctx context.Context, collection, id string, doc json.RawMessage) error
	DeleteDoc(ctx context.Context, collection, id string) error
	GetList(ctx context.Context, collection, key string) ([]json.RawMessage, bool, error)
	PutList(ctx context.Context, collection, key string, docs []json.RawMessage) error
	Close() error
}

// QueryKey identifies a filter within a collection.
func QueryKey(f docstore.Filter) string {
	var b strings.Builder
	b.WriteString("q")
	for _, c := range f.Where {
		v, _ := json.Marshal(c.Value)
		fmt.Fprintf(&b, "|%s=%s", c.Field, v)
	}
	if f.OrderBy != "" {
		b.WriteString("|order=" + f.OrderBy)
	}
	if f.Desc {
		b.WriteString("|desc")
	}
	if f.Limit > 0 {
		fmt.Fprintf(&b, "|limit=%d", f.Limit)
	}
	return b.String()
}

// Noop never stores anything.
type Noop struct{}

func (Noop) GetDoc(context.Context, string, string) (json.RawMessage, bool, error) {
	return nil, false, nil
}
func (Noop) PutDoc(context.Context, string, string, json.RawMessage) error { return nil }
func (Noop) DeleteDoc(context.Context, string, string) error               { return nil }
func (Noop) GetList(context.Context, string, string) ([]json.RawMessage, bool, error) {
	return nil, false, nil
}
func (Noop) PutList(context.Context, string, string, []json.RawMessage) error { return nil }
func (Noop) Close() error                                                     { return nil }

type Config struct {
	Driver   string
	Path     string
	RedisURL string
	Prefix   string
}

// Open returns the cache selected by cfg.Driver.
func Open(cfg Config) (Cache, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return OpenSQLite(cfg.Path)
	case DriverRedis:
		return OpenRedis(cfg.RedisURL, cfg.Prefix)
	case DriverNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
