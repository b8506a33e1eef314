// Package room owns the room table: membership, targeted forwarding and
// broadcasts, and deletion-on-empty.
//
// Rooms hold connection ids, never connection handles; every send resolves
// the id through the connection registry and evicts the member if the
// transport is gone. Membership mutation and forwarding share one store
// mutex so "find target, check liveness, evict if dead" is atomic with
// respect to concurrent joins, leaves and sweeps.
package room

import (
	"sort"
	"sync"

	"github.com/meshroom/signal-relay/internal/metrics"
	"github.com/meshroom/signal-relay/internal/registry"
)

type Store struct {
	reg     *registry.Registry
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	// members maps userID -> connection id. User ids are unique per room.
	members map[string]string
}

// Info is one room's diagnostic snapshot.
type Info struct {
	RoomID    string   `json:"roomId"`
	UserCount int      `json:"userCount"`
	Users     []string `json:"users"`
}

func NewStore(reg *registry.Registry, m *metrics.Metrics) *Store {
	return &Store{
		reg:     reg,
		metrics: m,
		rooms:   make(map[string]*room),
	}
}

// Create makes an empty room. Re-creating an existing room returns
// ErrRoomExists and leaves its membership untouched.
func (s *Store) Create(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; ok {
		return ErrRoomExists
	}
	s.rooms[roomID] = &room{members: make(map[string]string)}
	s.metrics.Inc(metrics.RoomsCreated)
	return nil
}

// Join inserts the connection into the room under userID and binds the
// connection's room/user identity. It returns the roster that existed before
// the join (sorted, excluding the joiner) so the caller can report it.
func (s *Store) Join(roomID string, conn *registry.Conn, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if _, ok := r.members[userID]; ok {
		return nil, ErrDuplicateUser
	}

	existing := make([]string, 0, len(r.members))
	for uid := range r.members {
		existing = append(existing, uid)
	}
	sort.Strings(existing)

	r.members[userID] = conn.ID()
	conn.Bind(roomID, userID)
	s.metrics.Inc(metrics.RoomJoins)
	return existing, nil
}

// Leave removes the connection from its bound room, clears the binding and
// deletes the room if it became empty. It returns the departed identity plus
// the remaining members to notify. ok is false if the connection was not
// bound to any room.
func (s *Store) Leave(conn *registry.Conn) (roomID, userID string, remaining []*registry.Conn, ok bool) {
	roomID, userID, bound := conn.Binding()
	if !bound {
		return "", "", nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn.ClearBinding()

	r, exists := s.rooms[roomID]
	if !exists {
		return roomID, userID, nil, true
	}
	if r.members[userID] == conn.ID() {
		delete(r.members, userID)
	}
	s.metrics.Inc(metrics.RoomLeaves)

	remaining = s.resolveMembersLocked(roomID, r, "")
	s.deleteIfEmptyLocked(roomID, r)
	return roomID, userID, remaining, true
}

// Forward delivers payload to targetUserID within roomID. It returns false
// when the room or user is missing or the target's transport is closed; a
// closed target is evicted as a side effect.
func (s *Store) Forward(roomID, targetUserID string, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	connID, ok := r.members[targetUserID]
	if !ok {
		return false
	}
	conn, ok := s.reg.Get(connID)
	if !ok || !conn.Open() {
		s.evictLocked(roomID, r, targetUserID)
		return false
	}
	if err := conn.Send(payload); err != nil {
		s.evictLocked(roomID, r, targetUserID)
		return false
	}
	return true
}

// BroadcastToOthers sends payload to every member except exclude. Members
// whose transport is closed or whose send fails are evicted.
func (s *Store) BroadcastToOthers(roomID string, exclude *registry.Conn, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return
	}

	var dead []string
	for userID, connID := range r.members {
		if exclude != nil && connID == exclude.ID() {
			continue
		}
		conn, ok := s.reg.Get(connID)
		if !ok || !conn.Open() {
			dead = append(dead, userID)
			continue
		}
		if err := conn.Send(payload); err != nil {
			dead = append(dead, userID)
		}
	}
	for _, userID := range dead {
		s.evictLocked(roomID, r, userID)
	}
}

// Snapshot reports every room's id, member count and user list, sorted by
// room id. Closed members encountered during the walk are evicted.
func (s *Store) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.rooms))
	for roomID, r := range s.rooms {
		s.evictClosedLocked(roomID, r)
		if _, still := s.rooms[roomID]; !still {
			continue
		}
		users := make([]string, 0, len(r.members))
		for userID := range r.members {
			users = append(users, userID)
		}
		sort.Strings(users)
		out = append(out, Info{RoomID: roomID, UserCount: len(users), Users: users})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// EvictConn silently removes the connection from every room it ever joined.
// Used by lifecycle cleanup after Leave, as a backstop against stale
// memberships, and never notifies anyone.
func (s *Store) EvictConn(conn *registry.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, roomID := range conn.JoinedRooms() {
		r, ok := s.rooms[roomID]
		if !ok {
			continue
		}
		for userID, connID := range r.members {
			if connID == conn.ID() {
				s.evictLocked(roomID, r, userID)
			}
		}
	}
}

// Sweep walks every room and evicts members whose transport is no longer
// open, deleting rooms left empty. It returns the number of evicted members.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for roomID, r := range s.rooms {
		evicted += s.evictClosedLocked(roomID, r)
	}
	return evicted
}

// Len returns the number of rooms.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Store) resolveMembersLocked(roomID string, r *room, excludeUserID string) []*registry.Conn {
	var out []*registry.Conn
	var dead []string
	for userID, connID := range r.members {
		if userID == excludeUserID {
			continue
		}
		conn, ok := s.reg.Get(connID)
		if !ok || !conn.Open() {
			dead = append(dead, userID)
			continue
		}
		out = append(out, conn)
	}
	for _, userID := range dead {
		s.evictLocked(roomID, r, userID)
	}
	return out
}

func (s *Store) evictClosedLocked(roomID string, r *room) int {
	var dead []string
	for userID, connID := range r.members {
		conn, ok := s.reg.Get(connID)
		if !ok || !conn.Open() {
			dead = append(dead, userID)
		}
	}
	for _, userID := range dead {
		s.evictLocked(roomID, r, userID)
	}
	return len(dead)
}

func (s *Store) evictLocked(roomID string, r *room, userID string) {
	delete(r.members, userID)
	s.metrics.Inc(metrics.MembersEvicted)
	s.deleteIfEmptyLocked(roomID, r)
}

// deleteIfEmptyLocked enforces the invariant that a room with zero members
// never persists.
func (s *Store) deleteIfEmptyLocked(roomID string, r *room) {
	if len(r.members) == 0 {
		delete(s.rooms, roomID)
		s.metrics.Inc(metrics.RoomsDeleted)
	}
}
