package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/actionlog"
	"github.com/Strob0t/ReviewForge/internal/port/cache"
	"github.com/Strob0t/ReviewForge/internal/port/documents"
	"github.com/Strob0t/ReviewForge/internal/port/locks"
	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
)

var (
	_ actionlog.Log      = (*memLog)(nil)
	_ documents.Store    = (*memDocs)(nil)
	_ cache.Cache        = (*memCache)(nil)
	_ messagequeue.Queue = (*mockQueue)(nil)
	_ locks.Mirror       = (*memMirror)(nil)
)

// memLog is an in-memory action log.
type memLog struct {
	mu        sync.Mutex
	records   []review.Record
	appendErr error
	scans     int
	// beforeAppend runs outside the lock at the start of every Append.
	beforeAppend func()
}

func (m *memLog) Append(_ context.Context, r *review.Record) error {
	if m.beforeAppend != nil {
		m.beforeAppend()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	r.Seq = int64(len(m.records) + 1)
	m.records = append(m.records, *r)
	return nil
}

func (m *memLog) Scan(_ context.Context, f actionlog.Filter) ([]review.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	var out []review.Record
	for i := range m.records {
		if f.Match(&m.records[i]) {
			out = append(out, m.records[i])
		}
	}
	review.SortRecords(out)
	return out, nil
}

func (m *memLog) Head(_ context.Context, doc string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var head int64
	for i := range m.records {
		if m.records[i].DocumentID == doc && m.records[i].Seq > head {
			head = m.records[i].Seq
		}
	}
	return head, nil
}

func (m *memLog) Documents(_ context.Context) ([]actionlog.DocumentHead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	heads := make(map[string]*actionlog.DocumentHead)
	for i := range m.records {
		r := &m.records[i]
		h, ok := heads[r.DocumentID]
		if !ok {
			h = &actionlog.DocumentHead{DocumentID: r.DocumentID}
			heads[r.DocumentID] = h
		}
		h.Count++
		h.Seq = r.Seq
	}
	out := make([]actionlog.DocumentHead, 0, len(heads))
	for _, h := range heads {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (m *memLog) Participants(_ context.Context) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string)
	seen := make(map[string]bool)
	for i := range m.records {
		r := &m.records[i]
		k := r.DocumentID + "\x00" + r.Actor
		if r.Actor == "" || seen[k] {
			continue
		}
		seen[k] = true
		out[r.DocumentID] = append(out[r.DocumentID], r.Actor)
	}
	return out, nil
}

func (m *memLog) scanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scans
}

// memDocs is a fixed document store.
type memDocs struct {
	ids []string
}

func (d *memDocs) ListDocumentIDs(context.Context) ([]string, error) { return d.ids, nil }

func (d *memDocs) GetDocument(_ context.Context, id string) (*documents.Document, error) {
	for _, x := range d.ids {
		if x == id {
			return &documents.Document{ID: id}, nil
		}
	}
	return nil, domain.ErrNotFound
}

// memCache is a map-backed cache that also records local evictions.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	evicted []string
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) EvictLocal(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = append(c.evicted, key)
	delete(c.data, key)
}

// mockQueue records publishes and lets tests deliver messages to handlers.
type mockQueue struct {
	mu        sync.Mutex
	published []publishedMsg
	handlers  map[string]messagequeue.Handler
}

type publishedMsg struct {
	subject string
	data    []byte
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedMsg{subject: subject, data: data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *mockQueue) deliver(subject string, data []byte) error {
	q.mu.Lock()
	h := q.handlers[subject]
	q.mu.Unlock()
	return h(context.Background(), subject, data)
}

func (q *mockQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.published))
	for i, p := range q.published {
		out[i] = p.subject
	}
	return out
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

// mockHub records broadcast event types.
type mockHub struct {
	mu     sync.Mutex
	events []string
}

func (h *mockHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *mockHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

// memMirror is a shared lock mirror without expiry.
type memMirror struct {
	mu    sync.Mutex
	holds map[string]locks.Holders
}

func newMemMirror() *memMirror { return &memMirror{holds: make(map[string]locks.Holders)} }

func (m *memMirror) Holds(context.Context) (map[string]locks.Holders, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]locks.Holders, len(m.holds))
	for doc, hs := range m.holds {
		cp := make(locks.Holders, len(hs))
		for a, t := range hs {
			cp[a] = t
		}
		out[doc] = cp
	}
	return out, nil
}

func (m *memMirror) Put(_ context.Context, doc, actor string, hb time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holds[doc] == nil {
		m.holds[doc] = make(locks.Holders)
	}
	m.holds[doc][actor] = hb
	return nil
}

func (m *memMirror) Delete(_ context.Context, doc, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holds[doc], actor)
	if len(m.holds[doc]) == 0 {
		delete(m.holds, doc)
	}
	return nil
}
