package signaling

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// wsTransport adapts one gorilla connection to registry.Transport.
//
// Sends hold a write mutex and carry a short write deadline so a stalled
// peer fails the send instead of blocking callers that hold store locks. A
// failed send marks the transport closed; the stores treat that as the peer
// being gone.
type wsTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	open    atomic.Bool

	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{conn: conn}
	t.open.Store(true)
	return t
}

func (t *wsTransport) Send(data []byte) error {
	if !t.open.Load() {
		return net.ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.open.Store(false)
		return err
	}
	return nil
}

func (t *wsTransport) Open() bool { return t.open.Load() }

// Close performs a normal closure.
func (t *wsTransport) Close() error {
	return t.closeWith(websocket.CloseNormalClosure, "")
}

func (t *wsTransport) closeWith(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		t.open.Store(false)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

// markClosed flags the transport dead without writing a close frame, for
// paths where the peer is already gone (read error, abrupt disconnect).
func (t *wsTransport) markClosed() {
	t.open.Store(false)
}
