package statusapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/fedsync/libs/httpx"
	"github.com/md-rashed-zaman/fedsync/libs/runtime"
)

type RouterConfig struct {
	CORS        httpx.CORSPolicy
	Timeout     time.Duration
	ReadyChecks []runtime.ReadyCheck
	// FlushPerMinute caps manual flushes. Zero means 6.
	FlushPerMinute int
}

func NewRouter(h *Handler, logger *slog.Logger, cfg RouterConfig) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FlushPerMinute <= 0 {
		cfg.FlushPerMinute = 6
	}
	flushes := httpx.NewThrottle(cfg.FlushPerMinute, time.Minute)
	r := chi.NewRouter()
	r.Use(
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(cfg.CORS),
		httpx.WithBodyLimit(1<<20),
	)
	r.Get("/healthz", runtime.HealthHandler())
	r.Get("/readyz", runtime.ReadyHandler(cfg.ReadyChecks...))
	r.Route("/v1", func(r chi.Router) {
		r.Use(httpx.WithTimeout(cfg.Timeout))
		r.Get("/connectivity", h.connectivity)
		r.Get("/queue/pending", h.pending)
		r.Get("/queue/failed", h.failed)
		r.With(flushes.Middleware()).Post("/queue/flush", h.flush)
		r.Post("/queue/failed/{id}/retry", h.retry)
		r.Delete("/queue/failed/{id}", h.discard)
	})
	return otelhttp.NewHandler(r, "member-client-status")
}
