package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Connectivity is the part of the monitor the flusher needs.
type Connectivity interface {
	Subscribe(ctx context.Context) <-chan bool
}

type Flushable interface {
	Flush(ctx context.Context) (Result, error)
}

type FlusherConfig struct {
	// Interval enables periodic flushes while online. Zero disables them.
	Interval time.Duration
}

// Flusher flushes the queue once per offline to online transition. The state
// before the first report counts as offline, so a process that starts online
// flushes once right away.
type Flusher struct {
	queue    Flushable
	conn     Connectivity
	logger   *slog.Logger
	interval time.Duration
}

func NewFlusher(queue Flushable, conn Connectivity, logger *slog.Logger, cfg FlusherConfig) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{queue: queue, conn: conn, logger: logger, interval: cfg.Interval}
}

func (f *Flusher) Run(ctx context.Context) {
	updates := f.conn.Subscribe(ctx)

	var tick <-chan time.Time
	if f.interval > 0 {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	online := false
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			if v && !online {
				f.flush(ctx, "reconnected")
			}
			online = v
		case <-tick:
			if online {
				f.flush(ctx, "periodic")
			}
		}
	}
}

func (f *Flusher) flush(ctx context.Context, reason string) {
	res, err := f.queue.Flush(ctx)
	if err != nil {
		f.logger.Error("outbox flush failed", "reason", reason, "err", err)
		return
	}
	if res.Attempted > 0 || res.Aborted {
		f.logger.Info("outbox flushed", "reason", reason, "succeeded", res.Succeeded, "retained", res.Retained, "dead_lettered", res.DeadLettered)
	}
}
