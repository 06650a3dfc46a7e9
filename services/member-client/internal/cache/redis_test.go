package cache

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := OpenRedis(url, "fedsync-test-"+uuid.NewString())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	if err := c.PutDoc(ctx, "teams", "t1", json.RawMessage(`{"id":"t1"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	doc, ok, err := c.GetDoc(ctx, "teams", "t1")
	if err != nil || !ok || string(doc) != `{"id":"t1"}` {
		t.Fatalf("unexpected doc %s ok=%v err=%v", doc, ok, err)
	}
	if err := c.PutList(ctx, "teams", "q", []json.RawMessage{doc}); err != nil {
		t.Fatalf("put list: %v", err)
	}
	docs, ok, err := c.GetList(ctx, "teams", "q")
	if err != nil || !ok || len(docs) != 1 {
		t.Fatalf("unexpected list %v ok=%v err=%v", docs, ok, err)
	}
	if _, ok, _ := c.GetDoc(ctx, "teams", "missing"); ok {
		t.Fatal("expected miss")
	}
}
