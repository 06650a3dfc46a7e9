// Package connectivity tracks whether the backend is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/watch"
)

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Monitor is the single source of truth for online state. It starts offline
// until a probe or Set says otherwise.
type Monitor struct {
	state    *watch.Value[bool]
	probe    Probe
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

func NewMonitor(probe Probe, logger *slog.Logger, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		state:    watch.NewComparable(false),
		probe:    probe,
		logger:   logger,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
}

func (m *Monitor) Online() bool {
	return m.state.Get()
}

// Set records the online state. Repeating the current value is a no-op.
func (m *Monitor) Set(online bool) {
	if m.state.Set(online) {
		m.logger.Info("connectivity changed", "online", online)
	}
}

// MarkUnreachable records a failed backend call. With a probe configured the
// state drops to offline so the next successful probe is a reconnect; without
// one nothing could bring it back, so the state is left alone.
func (m *Monitor) MarkUnreachable() {
	if m.probe == nil {
		return
	}
	m.Set(false)
}

// Subscribe emits the current state and then every change until ctx is done.
func (m *Monitor) Subscribe(ctx context.Context) <-chan bool {
	return m.state.Subscribe(ctx)
}

// Check runs the probe once, records and returns the result.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.probe == nil {
		return m.Online()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.probe.Check(probeCtx)
	if err != nil && ctx.Err() != nil {
		return m.Online()
	}
	if err != nil {
		m.logger.Debug("connectivity probe failed", "err", err)
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m.probe == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
