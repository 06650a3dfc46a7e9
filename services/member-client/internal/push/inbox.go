package push

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/prefs"
)

// Inbox records delivered event ids. Record returns false for an id it has
// already seen.
type Inbox interface {
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

const (
	InboxKey          = "push.seen"
	DefaultInboxLimit = 500
)

// PrefsInbox keeps the most recent event ids in the preference store.
type PrefsInbox struct {
	kv    prefs.KV
	limit int

	mu sync.Mutex
}

func NewPrefsInbox(kv prefs.KV, limit int) *PrefsInbox {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	return &PrefsInbox{kv: kv, limit: limit}
}

func (i *PrefsInbox) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var seen []string
	raw, ok, err := i.kv.Get(InboxKey)
	if err != nil {
		return false, err
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &seen); err != nil {
			seen = nil
		}
	}
	for _, id := range seen {
		if id == eventID {
			return false, nil
		}
	}
	seen = append(seen, eventID)
	if len(seen) > i.limit {
		seen = seen[len(seen)-i.limit:]
	}
	out, err := json.Marshal(seen)
	if err != nil {
		return false, err
	}
	if err := i.kv.Put(InboxKey, string(out)); err != nil {
		return false, err
	}
	return true, nil
}
