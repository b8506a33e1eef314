package registry

import (
	"sync"
	"testing"
)

type fakeTransport struct {
	mu     sync.Mutex
	open   bool
	sent   [][]byte
	closed bool
}

func newFakeTransport() *fakeTransport { return &fakeTransport{open: true} }

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, data)
	return nil
}

func (t *fakeTransport) Open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	t.closed = true
	return nil
}

func TestRegistry_RegisterGetUnregister(t *testing.T) {
	r := New()

	conn := r.Register(newFakeTransport())
	if conn.ID() == "" {
		t.Fatalf("expected non-empty connection id")
	}

	got, ok := r.Get(conn.ID())
	if !ok || got != conn {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	r.Unregister(conn.ID())
	if _, ok := r.Get(conn.ID()); ok {
		t.Fatalf("expected connection to be gone")
	}

	// Idempotent.
	r.Unregister(conn.ID())
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestRegistry_UniqueIDs(t *testing.T) {
	r := New()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		conn := r.Register(newFakeTransport())
		if seen[conn.ID()] {
			t.Fatalf("duplicate connection id %q", conn.ID())
		}
		seen[conn.ID()] = true
	}
}

func TestConn_BindingLifecycle(t *testing.T) {
	r := New()
	conn := r.Register(newFakeTransport())

	if _, _, ok := conn.Binding(); ok {
		t.Fatalf("expected fresh connection to be unbound")
	}

	conn.Bind("r1", "alice")
	roomID, userID, ok := conn.Binding()
	if !ok || roomID != "r1" || userID != "alice" {
		t.Fatalf("Binding = %q, %q, %v", roomID, userID, ok)
	}

	conn.ClearBinding()
	if _, _, ok := conn.Binding(); ok {
		t.Fatalf("expected binding to be cleared")
	}

	// The joined set survives unbinding.
	conn.Bind("r2", "alice")
	rooms := conn.JoinedRooms()
	if len(rooms) != 2 {
		t.Fatalf("JoinedRooms = %v, want 2 rooms", rooms)
	}
}

func TestRegistry_SweepReapsClosedTransports(t *testing.T) {
	r := New()
	alive := r.Register(newFakeTransport())
	dead := r.Register(newFakeTransport())
	_ = dead.Close()

	if reaped := r.Sweep(); reaped != 1 {
		t.Fatalf("Sweep = %d, want 1", reaped)
	}
	if _, ok := r.Get(dead.ID()); ok {
		t.Fatalf("expected closed connection to be reaped")
	}
	if _, ok := r.Get(alive.ID()); !ok {
		t.Fatalf("expected open connection to survive")
	}
}
