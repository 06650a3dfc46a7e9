// Package statusapi serves the client's local status and queue controls on a
// loopback address.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/outbox"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/state"
)

type Connectivity interface {
	Online() bool
	Check(ctx context.Context) bool
}

type Queue interface {
	ListPending() ([]outbox.Operation, error)
	ListFailed() ([]outbox.Operation, error)
	Stats() outbox.Stats
	Flush(ctx context.Context) (outbox.Result, error)
	Retry(ctx context.Context, id string) (outbox.Operation, error)
	Discard(ctx context.Context, id string) error
}

type Handler struct {
	conn   Connectivity
	queue  Queue
	logger *slog.Logger
}

func NewHandler(conn Connectivity, queue Queue, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{conn: conn, queue: queue, logger: logger}
}

type connectivityResponse struct {
	Online  bool   `json:"online"`
	Pending int    `json:"pending"`
	Failed  int    `json:"failed"`
	Banner  string `json:"banner,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// connectivity reports the cached state; ?probe=1 runs a probe first.
func (h *Handler) connectivity(w http.ResponseWriter, r *http.Request) {
	online := h.conn.Online()
	if r.URL.Query().Get("probe") == "1" {
		online = h.conn.Check(r.Context())
	}
	stats := h.queue.Stats()
	b := state.Banner{Online: online, Pending: stats.Pending, Failed: stats.Failed}
	writeJSON(w, http.StatusOK, connectivityResponse{
		Online:  b.Online,
		Pending: b.Pending,
		Failed:  b.Failed,
		Banner:  b.Message(),
	})
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.ListPending()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (h *Handler) failed(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.ListFailed()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	if !h.conn.Online() {
		h.fail(w, r, failure.New(failure.KindUnavailable, "The service is unreachable."))
		return
	}
	res, err := h.queue.Flush(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	op, err := h.queue.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := failure.Classify(err)
	code := statusFor(kind)
	if code >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.logger.Error("status api error", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, code, errorResponse{Error: string(kind), Message: failure.UserMessage(err)})
}

func statusFor(kind failure.Kind) int {
	switch kind {
	case failure.KindValidation:
		return http.StatusBadRequest
	case failure.KindAuth:
		return http.StatusUnauthorized
	case failure.KindPermission:
		return http.StatusForbidden
	case failure.KindNotFound:
		return http.StatusNotFound
	case failure.KindConflict:
		return http.StatusConflict
	case failure.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
