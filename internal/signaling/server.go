package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshroom/signal-relay/internal/metrics"
	"github.com/meshroom/signal-relay/internal/ratelimit"
	"github.com/meshroom/signal-relay/internal/registry"
	"github.com/meshroom/signal-relay/internal/room"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Registry *registry.Registry
	Rooms    *room.Store

	// Inbound hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// SweepInterval controls the periodic stale-connection sweep.
	SweepInterval time.Duration
}

// Server accepts WebSocket clients and routes their signaling envelopes
// through the room store.
type Server struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	reg     *registry.Registry
	rooms   *room.Store

	maxMessageBytes      int64
	maxMessagesPerSecond int
	sweepInterval        time.Duration

	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	rooms := cfg.Rooms
	if rooms == nil {
		rooms = room.NewStore(reg, cfg.Metrics)
	}

	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	perSecond := cfg.MaxMessagesPerSecond
	if perSecond <= 0 {
		perSecond = 50
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = 30 * time.Second
	}

	return &Server{
		log:                  log,
		metrics:              cfg.Metrics,
		reg:                  reg,
		rooms:                rooms,
		maxMessageBytes:      maxBytes,
		maxMessagesPerSecond: perSecond,
		sweepInterval:        sweep,
		upgrader: websocket.Upgrader{
			// Origin checks are enforced by the httpserver origin middleware.
			// Unit tests dial the handler directly and accept all origins here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleWebSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handleWebSocket(w, r)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	transport := newWSTransport(ws)
	conn := s.reg.Register(transport)
	s.metrics.Inc(metrics.ConnectionsAccepted)
	s.log.Info("client connected", "connection_id", conn.ID(), "remote_addr", r.RemoteAddr)

	_ = conn.Send(marshalMessage(serverMessage{
		Type:         messageTypeConnected,
		ConnectionID: conn.ID(),
		Timestamp:    time.Now().UnixMilli(),
	}))

	s.readLoop(conn, transport, ws)
}

// readLoop processes inbound frames until the connection dies, then runs
// disconnect cleanup. All envelope handling is synchronous: per-connection
// ordering is the arrival order on the wire.
func (s *Server) readLoop(conn *registry.Conn, transport *wsTransport, ws *websocket.Conn) {
	defer s.closeConn(conn, transport)

	ws.SetReadLimit(s.maxMessageBytes)
	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{},
		int64(s.maxMessagesPerSecond), int64(s.maxMessagesPerSecond))

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		// Consume the frame before enforcing the rate limit so closing the
		// connection doesn't turn into an abortive close on unread data.
		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			s.sendError(conn, "rate limit exceeded")
			transport.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			transport.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		s.metrics.Inc(metrics.MessagesReceived)
		s.dispatch(conn, data)
	}
}

// dispatch parses one envelope and runs its handler. Failures never
// propagate: every error path ends in an error envelope to the sender (or,
// for candidates, a log line) with the connection left open.
func (s *Server) dispatch(conn *registry.Conn, data []byte) {
	msg, err := parseClientMessage(data)
	if err != nil {
		s.metrics.Inc(metrics.BadMessages)
		s.sendError(conn, err.Error())
		return
	}

	switch msg.Type {
	case messageTypeCreateRoom:
		s.handleCreateRoom(conn, msg)
	case messageTypeJoinRoom:
		s.handleJoinRoom(conn, msg)
	case messageTypeLeaveRoom:
		s.handleLeaveRoom(conn)
	case messageTypeOffer, messageTypeAnswer:
		s.handleForward(conn, msg)
	case messageTypeICECandidate:
		s.handleICECandidate(conn, msg)
	case messageTypeGetRoomInfo:
		s.handleGetRoomInfo(conn)
	}
}

func (s *Server) handleCreateRoom(conn *registry.Conn, msg clientMessage) {
	if err := s.rooms.Create(msg.RoomID); err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			_ = conn.Send(marshalMessage(serverMessage{
				Type:   messageTypeRoomExists,
				RoomID: msg.RoomID,
			}))
			return
		}
		s.sendError(conn, err.Error())
		return
	}
	s.log.Info("room created", "room_id", msg.RoomID, "connection_id", conn.ID())
	_ = conn.Send(marshalMessage(serverMessage{
		Type:   messageTypeRoomCreated,
		RoomID: msg.RoomID,
	}))
}

func (s *Server) handleJoinRoom(conn *registry.Conn, msg clientMessage) {
	if roomID, _, bound := conn.Binding(); bound {
		s.sendError(conn, fmt.Sprintf("already in room %q; leave it first", roomID))
		return
	}

	existing, err := s.rooms.Join(msg.RoomID, conn, msg.UserID)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		s.sendError(conn, fmt.Sprintf("room %q not found", msg.RoomID))
		return
	case errors.Is(err, room.ErrDuplicateUser):
		s.sendError(conn, fmt.Sprintf("user %q is already in room %q", msg.UserID, msg.RoomID))
		return
	}

	s.log.Info("user joined room",
		"room_id", msg.RoomID, "user_id", msg.UserID, "connection_id", conn.ID())

	_ = conn.Send(marshalMessage(serverMessage{
		Type:   messageTypeJoined,
		RoomID: msg.RoomID,
		UserID: msg.UserID,
	}))
	if len(existing) > 0 {
		_ = conn.Send(marshalMessage(serverMessage{
			Type:  messageTypeExistingUsers,
			Users: existing,
		}))
	}

	s.rooms.BroadcastToOthers(msg.RoomID, conn, marshalMessage(serverMessage{
		Type:   messageTypeUserJoined,
		UserID: msg.UserID,
	}))
}

func (s *Server) handleLeaveRoom(conn *registry.Conn) {
	roomID, userID, remaining, ok := s.rooms.Leave(conn)
	if !ok {
		s.sendError(conn, "not in a room")
		return
	}

	s.log.Info("user left room", "room_id", roomID, "user_id", userID)

	_ = conn.Send(marshalMessage(serverMessage{
		Type:   messageTypeLeft,
		RoomID: roomID,
	}))
	s.notifyUserLeft(remaining, userID)
}

func (s *Server) handleForward(conn *registry.Conn, msg clientMessage) {
	roomID, userID, bound := conn.Binding()
	if !bound {
		s.sendError(conn, "not in a room")
		return
	}

	payload := marshalMessage(serverMessage{
		Type: msg.Type,
		SDP:  msg.SDP,
		From: userID,
	})
	if !s.rooms.Forward(roomID, msg.TargetUserID, payload) {
		s.metrics.Inc(metrics.ForwardsFailed)
		s.sendError(conn, fmt.Sprintf("failed to deliver %s to user %q", msg.Type, msg.TargetUserID))
		return
	}
	s.metrics.Inc(metrics.ForwardsDelivered)
}

// handleICECandidate is best-effort: candidates arrive in bursts and a gone
// target is routine during teardown, so failures are logged, not replied.
func (s *Server) handleICECandidate(conn *registry.Conn, msg clientMessage) {
	roomID, userID, bound := conn.Binding()
	if !bound {
		s.metrics.Inc(metrics.CandidatesDropped)
		s.log.Debug("dropping candidate from unbound connection", "connection_id", conn.ID())
		return
	}

	payload := marshalMessage(serverMessage{
		Type:        messageTypeICECandidate,
		Candidate:   msg.Candidate,
		SDPMid:      msg.SDPMid,
		SDPMLineIdx: msg.SDPMLineIdx,
		From:        userID,
	})
	if !s.rooms.Forward(roomID, msg.TargetUserID, payload) {
		s.metrics.Inc(metrics.CandidatesDropped)
		s.log.Debug("dropping undeliverable candidate",
			"room_id", roomID, "from", userID, "target", msg.TargetUserID)
		return
	}
	s.metrics.Inc(metrics.ForwardsDelivered)
}

func (s *Server) handleGetRoomInfo(conn *registry.Conn) {
	snap := s.rooms.Snapshot()
	if snap == nil {
		snap = []room.Info{}
	}
	_ = conn.Send(marshalMessage(roomInfoMessage{
		Type:       messageTypeRoomInfo,
		Rooms:      snap,
		TotalRooms: len(snap),
	}))
}

// closeConn is the disconnect path: silent leave (the departed peer gets no
// `left` reply, its transport is already gone), userLeft to the remaining
// members, then registry removal.
func (s *Server) closeConn(conn *registry.Conn, transport *wsTransport) {
	transport.markClosed()

	roomID, userID, remaining, ok := s.rooms.Leave(conn)
	if ok {
		s.log.Info("client disconnected while in room",
			"connection_id", conn.ID(), "room_id", roomID, "user_id", userID)
		s.notifyUserLeft(remaining, userID)
	} else {
		s.log.Info("client disconnected", "connection_id", conn.ID())
	}

	s.rooms.EvictConn(conn)
	s.reg.Unregister(conn.ID())
	_ = transport.Close()
	s.metrics.Inc(metrics.ConnectionsClosed)
}

func (s *Server) notifyUserLeft(members []*registry.Conn, userID string) {
	if len(members) == 0 {
		return
	}
	payload := marshalMessage(serverMessage{
		Type:   messageTypeUserLeft,
		UserID: userID,
	})
	for _, member := range members {
		_ = member.Send(payload)
	}
}

func (s *Server) sendError(conn *registry.Conn, message string) {
	_ = conn.Send(marshalMessage(serverMessage{
		Type:    messageTypeError,
		Message: message,
	}))
}

// RunSweeper periodically reconciles the room store and registry against
// transports that died without a close event. It returns when ctx is done.
func (s *Server) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.rooms.Sweep()
			reaped := s.reg.Sweep()
			s.metrics.Inc(metrics.SweepRuns)
			if evicted > 0 || reaped > 0 {
				s.log.Debug("sweep reconciled stale state",
					"members_evicted", evicted, "connections_reaped", reaped)
			}
		}
	}
}

// Shutdown broadcasts serverShutdown to every registered connection and
// closes each transport with a normal closure. The HTTP listener itself is
// shut down by the caller.
func (s *Server) Shutdown() {
	payload := marshalMessage(serverMessage{Type: messageTypeServerShutdown})
	conns := s.reg.All()
	s.log.Info("broadcasting shutdown", "connections", len(conns))
	for _, conn := range conns {
		_ = conn.Send(payload)
		_ = conn.Close()
		s.reg.Unregister(conn.ID())
	}
}
