package metrics

import "sync"

// Counter names used across the relay. Names are intentionally simple; a
// follow-up metrics task can standardize and export these via OTel.
const (
	ConnectionsAccepted = "connections_accepted"
	ConnectionsClosed   = "connections_closed"
	MessagesReceived    = "messages_received"
	BadMessages         = "bad_messages"

	RoomsCreated = "rooms_created"
	RoomsDeleted = "rooms_deleted"
	RoomJoins    = "room_joins"
	RoomLeaves   = "room_leaves"

	ForwardsDelivered = "forwards_delivered"
	ForwardsFailed    = "forwards_failed"
	CandidatesDropped = "candidates_dropped"

	MembersEvicted = "members_evicted"
	SweepRuns      = "sweep_runs"

	DropReasonRateLimited = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production relay is expected to plug into a real metrics backend; this
// type exists to keep the signaling logic testable while still providing the
// counters the operational endpoints expose.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
