package httpx

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Throttle lets a route run at most limit times per fixed window, counting
// every caller together.
type Throttle struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	count int
	reset time.Time
}

func NewThrottle(limit int, window time.Duration) *Throttle {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Throttle{limit: limit, window: window, now: time.Now}
}

func (t *Throttle) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wait, ok := t.allow(); !ok {
				secs := int(wait.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow reports whether another call fits in the current window, and
// otherwise how long until the window resets.
func (t *Throttle) allow() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !now.Before(t.reset) {
		t.count = 0
		t.reset = now.Add(t.window)
	}
	if t.count >= t.limit {
		return t.reset.Sub(now), false
	}
	t.count++
	return 0, true
}
