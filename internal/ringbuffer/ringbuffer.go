// Package ringbuffer implements Quern's bounded in-memory log store:
// append, filtered range query, cursor-based pagination and SSE-style
// real-time fan-out. Modeled on r3e-network-service_layer's services/accountpool pool.go
// for the lock-guarded-slice-plus-subscriber-channels shape, generalized
// from pooled accounts to a capacity-bounded, append-only log.
package ringbuffer

import (
	"strings"
	"sync"
	"time"

	"github.com/tidwall/match"

	"github.com/quern/quern/internal/models"
)

// Filter narrows a query or subscription to matching LogEntry records, per
// spec §4.2.
type Filter struct {
	LevelFloor       models.LogLevel
	Process          string
	Subsystem        string
	Category         string
	Sources          []models.LogSource
	Substring        string
	SubstringExclude string
	DeviceID         string
}

var levelRank = map[models.LogLevel]int{
	models.LevelDebug:   0,
	models.LevelInfo:    1,
	models.LevelNotice:  2,
	models.LevelWarning: 3,
	models.LevelError:   4,
	models.LevelFault:   5,
}

// Match reports whether entry satisfies every non-zero field of f.
func (f Filter) Match(entry models.LogEntry) bool {
	if f.LevelFloor != "" && levelRank[entry.Level] < levelRank[f.LevelFloor] {
		return false
	}
	if f.Process != "" && entry.Process != f.Process {
		return false
	}
	if f.Subsystem != "" && entry.Subsystem != f.Subsystem {
		return false
	}
	if f.Category != "" && entry.Category != f.Category {
		return false
	}
	if f.DeviceID != "" && entry.DeviceID != f.DeviceID {
		return false
	}
	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if s == entry.Source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Substring != "" && !containsFold(entry.Message, f.Substring) {
		return false
	}
	if f.SubstringExclude != "" && containsFold(entry.Message, f.SubstringExclude) {
		return false
	}
	return true
}

// containsFold supports both plain substrings and glob patterns (`*`, `?`)
// via tidwall/match, so callers can pass either a literal substring or a
// shell-style glob without the ring buffer caring which.
func containsFold(haystack, needle string) bool {
	if match.IsPattern(needle) {
		return match.Match(strings.ToLower(haystack), strings.ToLower(needle))
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Cursor is an opaque position in the buffer's append order.
type Cursor struct {
	Sequence  uint64
	Timestamp time.Time
}

// After reports whether entry was appended strictly after c.
func (c Cursor) After(entry models.LogEntry) bool {
	return entry.Sequence > c.Sequence
}

const defaultCapacity = 10000
const heartbeatInterval = 5 * time.Second

// RingBuffer is a fixed-capacity, append-only store of LogEntry records
// with filtered queries and live subscriptions.
type RingBuffer struct {
	mu       sync.Mutex
	entries  []models.LogEntry
	capacity int
	nextSeq  uint64

	subMu sync.Mutex
	subs  map[int]*subscription
	subID int
}

type subscription struct {
	filter Filter
	ch     chan models.LogEntry
	done   chan struct{}
}

// New builds a RingBuffer with the given capacity (spec default 10000).
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &RingBuffer{
		capacity: capacity,
		subs:     make(map[int]*subscription),
	}
}

// Append adds entry, assigning it the next monotone sequence number and
// timestamp-if-unset. O(1) amortized; never blocks on subscribers — a full
// subscriber channel drops the entry for that subscriber rather than
// stalling the append, per spec §5's backpressure policy.
func (r *RingBuffer) Append(entry models.LogEntry) models.LogEntry {
	r.mu.Lock()
	r.nextSeq++
	entry.Sequence = r.nextSeq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.capacity {
		overflow := len(r.entries) - r.capacity
		r.entries = r.entries[overflow:]
	}
	r.mu.Unlock()

	r.fanOut(entry)
	return entry
}

func (r *RingBuffer) fanOut(entry models.LogEntry) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, sub := range r.subs {
		if !sub.filter.Match(entry) {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
			// subscriber fell behind; drop rather than block the producer.
		}
	}
}

// Query returns entries matching filter, newest-first, honoring since/until
// bounds, a cursor (entries strictly after it), and limit/offset pagination.
// It also returns the cursor of the newest entry in the result set so the
// caller can page forward.
func (r *RingBuffer) Query(filter Filter, since *Cursor, until *time.Time, limit, offset int) ([]models.LogEntry, *Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []models.LogEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		entry := r.entries[i]
		if since != nil && !since.After(entry) {
			continue
		}
		if until != nil && entry.Timestamp.After(*until) {
			continue
		}
		if !filter.Match(entry) {
			continue
		}
		matched = append(matched, entry)
	}

	var cursor *Cursor
	if len(matched) > 0 {
		cursor = &Cursor{Sequence: matched[0].Sequence, Timestamp: matched[0].Timestamp}
	}

	if offset > 0 {
		if offset >= len(matched) {
			return nil, cursor
		}
		matched = matched[offset:]
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, cursor
}

// Subscribe returns a channel of entries appended after subscription that
// match filter, plus a cancel func that must be called to release
// resources (mirrors a context-scoped subscription lifetime; the SSE
// handler calls cancel on client disconnect per spec §4.9).
func (r *RingBuffer) Subscribe(filter Filter) (<-chan models.LogEntry, func()) {
	r.subMu.Lock()
	id := r.subID
	r.subID++
	sub := &subscription{filter: filter, ch: make(chan models.LogEntry, 256), done: make(chan struct{})}
	r.subs[id] = sub
	r.subMu.Unlock()

	cancel := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub.done)
		}
	}
	return sub.ch, cancel
}

// HeartbeatInterval is how often SSE subscribers should receive a
// heartbeat event while idle, per spec §4.9.
func HeartbeatInterval() time.Duration { return heartbeatInterval }

// Len returns the current number of buffered entries, used by the metrics
// gauge.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
