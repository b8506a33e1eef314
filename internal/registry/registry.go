// Package registry tracks every live client connection and the mutable
// signaling state bound to it (current room, current user identity).
//
// The registry owns Conn lifecycles; rooms reference connections by id only
// and resolve them here, so tearing down a connection can never leave an
// owned handle behind in the room store.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Transport is the send/close capability of one live client connection.
//
// Send must fail fast: implementations are expected to enforce a short write
// deadline so a slow or dead peer cannot stall callers that hold store locks.
type Transport interface {
	Send(data []byte) error
	Open() bool
	Close() error
}

// Conn is one registered connection.
//
// The room/user binding is mutated only by the room store (join/leave) and by
// the lifecycle cleanup for this connection; Conn's own mutex makes those
// mutations safe against concurrent readers such as the sweeper.
type Conn struct {
	id        string
	transport Transport

	mu     sync.Mutex
	roomID string
	userID string
	joined map[string]struct{}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(data []byte) error { return c.transport.Send(data) }

func (c *Conn) Open() bool { return c.transport.Open() }

func (c *Conn) Close() error { return c.transport.Close() }

// Bind records the room/user identity assigned by a successful join. It also
// remembers the room in the joined set used for cleanup bookkeeping.
func (c *Conn) Bind(roomID, userID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.userID = userID
	if c.joined == nil {
		c.joined = make(map[string]struct{})
	}
	c.joined[roomID] = struct{}{}
	c.mu.Unlock()
}

// ClearBinding drops the current room/user identity. The joined set is kept;
// it records every room this connection ever entered.
func (c *Conn) ClearBinding() {
	c.mu.Lock()
	c.roomID = ""
	c.userID = ""
	c.mu.Unlock()
}

// Binding returns the current room/user identity. ok is false while unbound.
func (c *Conn) Binding() (roomID, userID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == "" {
		return "", "", false
	}
	return c.roomID, c.userID, true
}

// JoinedRooms returns every room this connection ever joined.
func (c *Conn) JoinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for roomID := range c.joined {
		out = append(out, roomID)
	}
	return out
}

// Registry is the process-wide connection table.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
	}
}

// Register stores a new connection for the transport and returns it. The
// connection id is unique for the process lifetime.
func (r *Registry) Register(t Transport) *Conn {
	conn := &Conn{
		id:        uuid.NewString(),
		transport: t,
	}
	r.mu.Lock()
	r.conns[conn.id] = conn
	r.mu.Unlock()
	return conn
}

// Unregister removes the connection. No-op if the id is unknown.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Sweep removes entries whose transport is no longer open and returns how
// many were reaped. This is a safety net for transports that die without a
// close event.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	reaped := 0
	for id, conn := range r.conns {
		if !conn.Open() {
			delete(r.conns, id)
			reaped++
		}
	}
	return reaped
}
