// Package flowstore implements Quern's bounded in-memory request/response
// store: add, id lookup, filtered range query and a long-polling wait.
// Grounded on the same lock-guarded-slice shape as internal/ringbuffer,
// generalized to id-addressable records instead of append-only entries.
package flowstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/quern/quern/internal/models"
)

// Filter narrows a flow query, per spec §4.3.
type Filter struct {
	Host         string
	PathContains string
	Method       string
	StatusMin    int
	StatusMax    int
	HasError     *bool
	DeviceID     string
	Since        *time.Time
	Until        *time.Time
}

// Match reports whether flow satisfies every non-zero field of f.
func (f Filter) Match(flow models.FlowRecord) bool {
	if f.Host != "" && flow.Request.Host != f.Host {
		return false
	}
	if f.PathContains != "" && !strings.Contains(flow.Request.Path, f.PathContains) {
		return false
	}
	if f.Method != "" && !strings.EqualFold(flow.Request.Method, f.Method) {
		return false
	}
	if f.DeviceID != "" && flow.DeviceID != f.DeviceID {
		return false
	}
	if f.HasError != nil {
		hasErr := flow.Error != ""
		if hasErr != *f.HasError {
			return false
		}
	}
	if f.StatusMin > 0 || f.StatusMax > 0 {
		if flow.Response == nil {
			return false
		}
		if f.StatusMin > 0 && flow.Response.StatusCode < f.StatusMin {
			return false
		}
		if f.StatusMax > 0 && flow.Response.StatusCode > f.StatusMax {
			return false
		}
	}
	if f.Since != nil && flow.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && flow.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

const defaultCapacity = 5000

// waitPollInterval is returned by pollInterval. Wait itself does not poll:
// a blocked Wait is woken through a channel by the Add that stores a
// matching flow.
const waitPollInterval = 100 * time.Millisecond

// FlowStore is a fixed-capacity, id-addressable store of FlowRecord values.
type FlowStore struct {
	mu       sync.Mutex
	byID     map[string]models.FlowRecord
	order    []string // insertion order, oldest first, for eviction
	capacity int
	nextSeq  uint64

	waitMu      sync.Mutex
	waitWaiters map[chan models.FlowRecord]Filter
}

// New builds a FlowStore with the given capacity (spec default 5000).
func New(capacity int) *FlowStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &FlowStore{
		byID:        make(map[string]models.FlowRecord),
		capacity:    capacity,
		waitWaiters: make(map[chan models.FlowRecord]Filter),
	}
}

// Add inserts or updates flow (keyed by ID — a flow added at the request
// phase and later completed with a response is the same entry). Eviction
// removes the entry first added longest ago; an update does not move an
// entry's place in that order. Eviction does not touch the
// already-emitted summary LogEntry in the ring buffer, per spec §4.3.
func (s *FlowStore) Add(flow models.FlowRecord) models.FlowRecord {
	s.mu.Lock()
	if flow.Sequence == 0 {
		s.nextSeq++
		flow.Sequence = s.nextSeq
	}
	if flow.Timestamp.IsZero() {
		flow.Timestamp = time.Now().UTC()
	}
	if _, exists := s.byID[flow.ID]; !exists {
		s.order = append(s.order, flow.ID)
		if len(s.order) > s.capacity {
			evictID := s.order[0]
			s.order = s.order[1:]
			delete(s.byID, evictID)
		}
	}
	s.byID[flow.ID] = flow
	s.mu.Unlock()

	s.notifyWaiters(flow)
	return flow
}

// Get returns the flow with the given id, if present.
func (s *FlowStore) Get(id string) (models.FlowRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	return f, ok
}

// Query returns flows matching filter, newest-first, with limit/offset
// pagination.
func (s *FlowStore) Query(filter Filter, limit, offset int) []models.FlowRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.FlowRecord
	for i := len(s.order) - 1; i >= 0; i-- {
		flow := s.byID[s.order[i]]
		if filter.Match(flow) {
			matched = append(matched, flow)
		}
	}
	if offset > 0 {
		if offset >= len(matched) {
			return nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched
}

// Clear empties the store.
func (s *FlowStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]models.FlowRecord)
	s.order = nil
}

// Len returns the current number of stored flows, used by the metrics gauge.
func (s *FlowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *FlowStore) notifyWaiters(flow models.FlowRecord) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	for ch, filter := range s.waitWaiters {
		if filter.Match(flow) {
			select {
			case ch <- flow:
			default:
			}
		}
	}
}

// Wait long-polls for the first flow matching filter that either already
// exists (added at or after since) or arrives before timeout elapses. If
// since is nil, it defaults to now minus 5 seconds, per spec §4.3, to catch
// flows that landed between the triggering action and the wait call.
func (s *FlowStore) Wait(ctx context.Context, filter Filter, since *time.Time, timeout time.Duration) (models.FlowRecord, bool) {
	effectiveSince := time.Now().Add(-5 * time.Second)
	if since != nil {
		effectiveSince = *since
	}

	existingFilter := filter
	existingFilter.Since = &effectiveSince
	if existing := s.Query(existingFilter, 1, 0); len(existing) > 0 {
		return existing[0], true
	}

	ch := make(chan models.FlowRecord, 1)
	s.waitMu.Lock()
	s.waitWaiters[ch] = filter
	s.waitMu.Unlock()
	defer func() {
		s.waitMu.Lock()
		delete(s.waitWaiters, ch)
		s.waitMu.Unlock()
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case flow := <-ch:
		return flow, true
	case <-deadline.C:
		return models.FlowRecord{}, false
	case <-ctx.Done():
		return models.FlowRecord{}, false
	}
}

// pollInterval is exposed for callers that prefer an explicit poll loop
// over channel-based waiting (e.g. tests simulating slow producers).
func pollInterval() time.Duration { return waitPollInterval }
