package store

import (
	"sync"
	"time"

	"github.com/visgate/control-plane/pkg/models"
)

// LogRing buffers recent log lines per deployment for the SSE log stream.
// Each deployment keeps at most maxEntries lines, and whole buffers expire
// after ttl of inactivity. It is a live tail, not durable history; the
// durable copy lives on the deployment document.
type LogRing struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	buffers    map[string]*ringBuffer
	now        func() time.Time
}

type ringBuffer struct {
	entries  []models.LogEntry
	lastSeen time.Time
}

func NewLogRing(maxEntries int, ttl time.Duration) *LogRing {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &LogRing{
		maxEntries: maxEntries,
		ttl:        ttl,
		buffers:    make(map[string]*ringBuffer),
		now:        time.Now,
	}
}

func (r *LogRing) Append(deploymentID string, entries ...models.LogEntry) {
	if len(entries) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	buf, ok := r.buffers[deploymentID]
	if !ok {
		buf = &ringBuffer{}
		r.buffers[deploymentID] = buf
	}
	buf.entries = append(buf.entries, entries...)
	if overflow := len(buf.entries) - r.maxEntries; overflow > 0 {
		buf.entries = append(buf.entries[:0], buf.entries[overflow:]...)
	}
	buf.lastSeen = r.now()
}

// Since returns buffered entries strictly newer than the given timestamp.
// A zero time returns the whole buffer.
func (r *LogRing) Since(deploymentID string, after time.Time) []models.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[deploymentID]
	if !ok {
		return nil
	}
	if r.now().Sub(buf.lastSeen) > r.ttl {
		delete(r.buffers, deploymentID)
		return nil
	}
	out := make([]models.LogEntry, 0, len(buf.entries))
	for _, e := range buf.entries {
		if after.IsZero() || models.ParseISO(e.Timestamp).After(after) {
			out = append(out, e)
		}
	}
	return out
}

func (r *LogRing) Drop(deploymentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, deploymentID)
}

func (r *LogRing) sweepLocked() {
	now := r.now()
	for id, buf := range r.buffers {
		if now.Sub(buf.lastSeen) > r.ttl {
			delete(r.buffers, id)
		}
	}
}
