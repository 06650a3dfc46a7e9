// Package docstore is the backend document store: collections of JSON
// documents keyed by client-generated ids, with live change streams.
package docstore

import (
	"context"
	"encoding/json"
)

// Change operations as reported by the backend.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Change is one live update. Data is empty for deletes.
type Change struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Op         string          `json:"op"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Cond is a top-level field equality.
type Cond struct {
	Field string
	Value any
}

type Filter struct {
	Where   []Cond
	OrderBy string
	Desc    bool
	Limit   int
}

// Store is implemented by every backend. Returned documents always carry
// id, created_at and updated_at.
type Store interface {
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	List(ctx context.Context, collection string) ([]json.RawMessage, error)
	Query(ctx context.Context, collection string, f Filter) ([]json.RawMessage, error)
	Create(ctx context.Context, collection, id string, doc json.RawMessage) error
	Update(ctx context.Context, collection, id string, fields json.RawMessage) error
	Delete(ctx context.Context, collection, id string) error
	// Subscribe streams changes to a collection, or to one document when id
	// is set, until ctx is done.
	Subscribe(ctx context.Context, collection, id string) (<-chan Change, error)
	Ping(ctx context.Context) error
}

func (c Change) matches(collection, id string) bool {
	return c.Collection == collection && (id == "" || c.ID == id)
}
