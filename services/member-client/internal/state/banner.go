package state

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/outbox"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/watch"
)

// Banner is what the offline banner shows.
type Banner struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
	Failed  int  `json:"failed"`
}

// Message is the banner text, or empty when there is nothing to show.
func (b Banner) Message() string {
	switch {
	case !b.Online && b.Pending > 0:
		return fmt.Sprintf("You are offline. %d %s will sync when you reconnect.", b.Pending, plural(b.Pending, "change", "changes"))
	case !b.Online:
		return "You are offline. Showing saved data."
	case b.Failed > 0:
		return fmt.Sprintf("%d %s could not be synced.", b.Failed, plural(b.Failed, "change", "changes"))
	case b.Pending > 0:
		return fmt.Sprintf("Syncing %d %s.", b.Pending, plural(b.Pending, "change", "changes"))
	}
	return ""
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

type OnlineSource interface {
	Subscribe(ctx context.Context) <-chan bool
}

type StatsSource interface {
	WatchStats(ctx context.Context) <-chan outbox.Stats
}

// BannerHolder combines connectivity and queue counts.
type BannerHolder struct {
	conn  OnlineSource
	stats StatsSource
	value *watch.Value[Banner]
}

func NewBannerHolder(conn OnlineSource, stats StatsSource) *BannerHolder {
	return &BannerHolder{conn: conn, stats: stats, value: watch.NewComparable(Banner{})}
}

func (h *BannerHolder) Get() Banner {
	return h.value.Get()
}

func (h *BannerHolder) Subscribe(ctx context.Context) <-chan Banner {
	return h.value.Subscribe(ctx)
}

// Run follows both sources until ctx is done or either stream ends.
func (h *BannerHolder) Run(ctx context.Context) {
	online := h.conn.Subscribe(ctx)
	stats := h.stats.WatchStats(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-online:
			if !ok {
				return
			}
			h.value.Update(func(b Banner) Banner {
				b.Online = v
				return b
			})
		case s, ok := <-stats:
			if !ok {
				return
			}
			h.value.Update(func(b Banner) Banner {
				b.Pending, b.Failed = s.Pending, s.Failed
				return b
			})
		}
	}
}
