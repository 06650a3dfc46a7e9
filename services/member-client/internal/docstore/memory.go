package docstore

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
)

// Memory is an in-process Store. It backs tests and the offline demo mode.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	docs    map[string]map[string]map[string]any
	subs    map[chan Change]sub
	offline bool
	last    time.Time
}

type sub struct {
	collection string
	id         string
}

func NewMemory() *Memory {
	return &Memory{
		now:  time.Now,
		docs: map[string]map[string]map[string]any{},
		subs: map[chan Change]sub{},
	}
}

// SetOffline makes every call fail as if the backend were unreachable.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// Subscribers reports how many change streams are open.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) check() error {
	if m.offline {
		return failure.New(failure.KindUnavailable, "backend unreachable")
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check()
}

func (m *Memory) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, failure.ErrNotFound)
	}
	return json.Marshal(doc)
}

func (m *Memory) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	return m.Query(ctx, collection, Filter{})
}

func (m *Memory) Query(ctx context.Context, collection string, f Filter) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}

	var matched []map[string]any
	for _, doc := range m.docs[collection] {
		ok := true
		for _, c := range f.Where {
			want, err := json.Marshal(c.Value)
			if err != nil {
				return nil, err
			}
			got, _ := json.Marshal(doc[c.Field])
			if !bytes.Equal(want, got) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, doc)
		}
	}

	key := f.OrderBy
	if key == "" {
		key = "created_at"
	}
	sort.SliceStable(matched, func(i, j int) bool {
		c := compareValues(matched[i][key], matched[j][key])
		if c == 0 {
			return fmt.Sprint(matched[i]["id"]) < fmt.Sprint(matched[j]["id"])
		}
		if f.Desc {
			return c > 0
		}
		return c < 0
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]json.RawMessage, 0, len(matched))
	for _, doc := range matched {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (m *Memory) Create(ctx context.Context, collection, id string, doc json.RawMessage) error {
	fields, err := decodeFields(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.docs[collection][id]; ok {
		return fmt.Errorf("create %s/%s: %w", collection, id, failure.ErrConflict)
	}
	if m.docs[collection] == nil {
		m.docs[collection] = map[string]map[string]any{}
	}
	now := m.timestamp()
	fields["id"] = id
	fields["created_at"] = now
	fields["updated_at"] = now
	m.docs[collection][id] = fields
	m.publish(collection, id, OpInsert, fields)
	return nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, patch json.RawMessage) error {
	fields, err := decodeFields(patch)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, failure.ErrNotFound)
	}
	for k, v := range fields {
		doc[k] = v
	}
	doc["updated_at"] = m.timestamp()
	m.publish(collection, id, OpUpdate, doc)
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.docs[collection][id]; !ok {
		return fmt.Errorf("delete %s/%s: %w", collection, id, failure.ErrNotFound)
	}
	delete(m.docs[collection], id)
	m.publish(collection, id, OpDelete, nil)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, collection, id string) (<-chan Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	ch := make(chan Change, 64)
	m.subs[ch] = sub{collection: collection, id: id}
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// publish must be called with m.mu held. Slow subscribers drop changes.
func (m *Memory) publish(collection, id, op string, doc map[string]any) {
	var data json.RawMessage
	if doc != nil {
		data, _ = json.Marshal(doc)
	}
	change := Change{Collection: collection, ID: id, Op: op, Data: data}
	for ch, s := range m.subs {
		if !change.matches(s.collection, s.id) {
			continue
		}
		select {
		case ch <- change:
		default:
		}
	}
}

// timestamp is strictly increasing so created_at ordering is stable.
func (m *Memory) timestamp() string {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t.Format("2006-01-02T15:04:05.000000Z07:00")
}

func compareValues(a, b any) int {
	x, xok := a.(float64)
	y, yok := b.(float64)
	if xok && yok {
		return cmp.Compare(x, y)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func decodeFields(raw json.RawMessage) (map[string]any, error) {
	fields := map[string]any{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, failure.Wrap(failure.KindValidation, "decode document", err)
	}
	delete(fields, "id")
	delete(fields, "created_at")
	delete(fields, "updated_at")
	return fields, nil
}

var _ Store = (*Memory)(nil)
