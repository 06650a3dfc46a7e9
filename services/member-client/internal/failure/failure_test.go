package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", Validation("title required"), KindValidation},
		{"wrapped typed", fmt.Errorf("create event: %w", ErrNotFound), KindNotFound},
		{"no rows", pgx.ErrNoRows, KindNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, KindConflict},
		{"privs", &pgconn.PgError{Code: "42501"}, KindPermission},
		{"conn exception", &pgconn.PgError{Code: "08006"}, KindUnavailable},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, KindUnavailable},
		{"other pg", &pgconn.PgError{Code: "22P02"}, KindInternal},
		{"http 401", &HTTPError{Status: http.StatusUnauthorized}, KindAuth},
		{"http 503", &HTTPError{Status: http.StatusServiceUnavailable}, KindUnavailable},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindUnavailable},
		{"deadline", context.DeadlineExceeded, KindUnavailable},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestIsConnectivity(t *testing.T) {
	if IsConnectivity(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("a rejection from the backend is not a connectivity problem")
	}
	if !IsConnectivity(Wrap(KindUnavailable, "ping", errors.New("offline"))) {
		t.Fatal("expected unavailable error to count as connectivity")
	}
	if IsConnectivity(context.Canceled) {
		t.Fatal("cancellation is not a connectivity problem")
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(Validation("Title is required.")); got != "Title is required." {
		t.Fatalf("unexpected message %q", got)
	}
	if got := UserMessage(&pgconn.PgError{Code: "42501"}); got != "You do not have permission to do that." {
		t.Fatalf("unexpected message %q", got)
	}
	if got := UserMessage(nil); got != "" {
		t.Fatalf("expected empty message, got %q", got)
	}
}
