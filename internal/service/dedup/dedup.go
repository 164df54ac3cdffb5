// Package dedup drops inbound echoes of messages this client sent.
package dedup

import (
	"sync"
	"time"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
)

const (
	DefaultTTL      = 2 * time.Minute
	DefaultCapacity = 256
)

type entry struct {
	id      string
	addedAt time.Time
}

// Deduplicator tracks clientOriginIds of in-flight local messages. The set is bounded both by
// capacity and by a time-to-live, so ids the server never echoes cannot leak.
type Deduplicator struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	now      func() time.Time
	inflight map[string]time.Time
	order    []entry
}

// New returns a Deduplicator. Non-positive ttl or capacity fall back to the defaults.
func New(ttl time.Duration, capacity int, now func() time.Time) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{
		ttl:      ttl,
		capacity: capacity,
		now:      now,
		inflight: make(map[string]time.Time),
	}
}

// Track registers id before the message carrying it is transmitted.
func (d *Deduplicator) Track(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expireLocked(now)
	if _, ok := d.inflight[id]; ok {
		return
	}
	for len(d.inflight) >= d.capacity && len(d.order) > 0 {
		oldest := d.order[0]
		d.order = d.order[1:]
		if added, ok := d.inflight[oldest.id]; ok && added.Equal(oldest.addedAt) {
			delete(d.inflight, oldest.id)
		}
	}
	d.inflight[id] = now
	d.order = append(d.order, entry{id: id, addedAt: now})
}

// ShouldAccept reports whether message should be appended. An echo of a tracked id is
// rejected once and the id is released.
func (d *Deduplicator) ShouldAccept(message chat.Message) bool {
	if message.ClientOriginID == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.expireLocked(d.now())
	if _, ok := d.inflight[message.ClientOriginID]; !ok {
		return true
	}
	delete(d.inflight, message.ClientOriginID)
	return false
}

// Forget releases id without an echo, e.g. after a failed send.
func (d *Deduplicator) Forget(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// Pending reports whether id is still awaiting its echo.
func (d *Deduplicator) Pending(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked(d.now())
	_, ok := d.inflight[id]
	return ok
}

// Len returns the number of in-flight ids.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked(d.now())
	return len(d.inflight)
}

// Reset drops every tracked id.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	d.inflight = make(map[string]time.Time)
	d.order = nil
	d.mu.Unlock()
}

// expireLocked pops entries from the front of the insertion order while they are past the TTL.
// Entries already released by a match are skipped over.
func (d *Deduplicator) expireLocked(now time.Time) {
	cutoff := now.Add(-d.ttl)
	i := 0
	for ; i < len(d.order); i++ {
		e := d.order[i]
		added, ok := d.inflight[e.id]
		if !ok || !added.Equal(e.addedAt) {
			continue
		}
		if added.After(cutoff) {
			break
		}
		delete(d.inflight, e.id)
	}
	d.order = d.order[i:]
}
