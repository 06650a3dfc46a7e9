package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/fedsync/libs/db"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
)

func TestBuildQueryParameterisesEverything(t *testing.T) {
	sql, args, err := buildQuery("players", Filter{
		Where:   []Cond{{Field: "team_id", Value: "t1'; DROP TABLE documents; --"}},
		OrderBy: "number",
		Desc:    true,
		Limit:   5,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(sql, "DROP") || strings.Contains(sql, "team_id") || strings.Contains(sql, "number") {
		t.Fatalf("caller values leaked into sql: %s", sql)
	}
	want := "SELECT " + docColumn + " FROM documents WHERE collection = $1 AND data -> $2::text = $3::jsonb ORDER BY data -> $4::text DESC, id LIMIT $5"
	if sql != want {
		t.Fatalf("unexpected sql\n got: %s\nwant: %s", sql, want)
	}
	if len(args) != 5 || args[1] != "team_id" || args[3] != "number" || args[4] != 5 {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestBuildQueryRejectsBlankField(t *testing.T) {
	if _, _, err := buildQuery("players", Filter{Where: []Cond{{Value: 1}}}); err == nil {
		t.Fatal("expected error for blank field")
	}
}

func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url, db.DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)
	store := NewPostgres(pool, nil)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return store
}

func TestPostgresRoundTrip(t *testing.T) {
	store := openTestPostgres(t)
	ctx := context.Background()
	collection := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	id := uuid.NewString()

	if err := store.Create(ctx, collection, id, json.RawMessage(`{"title":"Cup","capacity":10}`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, collection, id, json.RawMessage(`{}`)); !errors.Is(err, failure.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.Update(ctx, collection, id, json.RawMessage(`{"capacity":12}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	docs, err := store.Query(ctx, collection, Filter{Where: []Cond{{Field: "capacity", Value: 12}}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(docs))
	}
	if err := store.Delete(ctx, collection, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, collection, id); !errors.Is(err, failure.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresSubscribe(t *testing.T) {
	store := openTestPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	collection := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	ch, err := store.Subscribe(ctx, collection, "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	id := uuid.NewString()
	if err := store.Create(ctx, collection, id, json.RawMessage(`{"title":"Live"}`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case c := <-ch:
		if c.ID != id || c.Op != OpInsert || len(c.Data) == 0 {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-ctx.Done():
		t.Fatal("no notification received")
	}
}
