package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestReadyHandlerReportsFailures(t *testing.T) {
	h := ReadyHandler(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("no brokers") }},
		ReadyCheck{Name: "skipped"},
	)

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}
	if body := rw.Body.String(); !strings.Contains(body, "kafka: no brokers") || strings.Contains(body, "db") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestReadyHandlerOK(t *testing.T) {
	rw := httptest.NewRecorder()
	ReadyHandler().ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}

func TestRunChecksAppliesTimeout(t *testing.T) {
	failures := RunChecks(context.Background(), 10*time.Millisecond, ReadyCheck{
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if len(failures) != 1 || !strings.HasPrefix(failures[0], "dependency: ") {
		t.Fatalf("unexpected failures %v", failures)
	}
}
