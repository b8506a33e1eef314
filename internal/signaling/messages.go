package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/meshroom/signal-relay/internal/room"
)

type messageType string

// Client -> relay envelope types.
const (
	messageTypeCreateRoom   messageType = "createRoom"
	messageTypeJoinRoom     messageType = "joinRoom"
	messageTypeLeaveRoom    messageType = "leaveRoom"
	messageTypeOffer        messageType = "offer"
	messageTypeAnswer       messageType = "answer"
	messageTypeICECandidate messageType = "iceCandidate"
	messageTypeGetRoomInfo  messageType = "getRoomInfo"
)

// Relay -> client envelope types.
const (
	messageTypeConnected      messageType = "connected"
	messageTypeRoomCreated    messageType = "roomCreated"
	messageTypeRoomExists     messageType = "roomExists"
	messageTypeJoined         messageType = "joined"
	messageTypeExistingUsers  messageType = "existingUsers"
	messageTypeUserJoined     messageType = "userJoined"
	messageTypeLeft           messageType = "left"
	messageTypeUserLeft       messageType = "userLeft"
	messageTypeRoomInfo       messageType = "roomInfo"
	messageTypeError          messageType = "error"
	messageTypeServerShutdown messageType = "serverShutdown"
)

// clientMessage is the inbound envelope. Decoding is deliberately lenient
// about extra fields (deployed clients attach roomId to forwards, which the
// relay derives from the connection's binding instead); required fields are
// enforced per type by validate.
//
// sdp and candidate stay raw so forwarded payloads are byte-identical to
// what the sender produced.
type clientMessage struct {
	Type         messageType     `json:"type"`
	RoomID       string          `json:"roomId"`
	UserID       string          `json:"userId"`
	TargetUserID string          `json:"targetUserId"`
	SDP          json.RawMessage `json:"sdp"`
	Candidate    json.RawMessage `json:"candidate"`
	SDPMid       *string         `json:"sdpMid"`
	SDPMLineIdx  *uint16         `json:"sdpMLineIndex"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return clientMessage{}, fmt.Errorf("malformed message: %w", err)
	}
	if msg.Type == "" {
		return clientMessage{}, fmt.Errorf("missing message type")
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	switch m.Type {
	case messageTypeCreateRoom:
		if m.RoomID == "" {
			return fmt.Errorf("createRoom message missing roomId")
		}
	case messageTypeJoinRoom:
		if m.RoomID == "" || m.UserID == "" {
			return fmt.Errorf("joinRoom message missing roomId or userId")
		}
	case messageTypeLeaveRoom, messageTypeGetRoomInfo:
		// No required fields; the bound room is used.
	case messageTypeOffer, messageTypeAnswer:
		if m.TargetUserID == "" {
			return fmt.Errorf("%s message missing targetUserId", m.Type)
		}
		if len(m.SDP) == 0 {
			return fmt.Errorf("%s message missing sdp", m.Type)
		}
	case messageTypeICECandidate:
		if m.TargetUserID == "" {
			return fmt.Errorf("iceCandidate message missing targetUserId")
		}
		if len(m.Candidate) == 0 {
			return fmt.Errorf("iceCandidate message missing candidate")
		}
		if m.SDPMid == nil || m.SDPMLineIdx == nil {
			return fmt.Errorf("iceCandidate message missing sdpMid or sdpMLineIndex")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// serverMessage is the outbound envelope for everything except roomInfo,
// which needs always-present list fields and gets its own shape below.
type serverMessage struct {
	Type messageType `json:"type"`

	ConnectionID string `json:"connectionId,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`

	RoomID string   `json:"roomId,omitempty"`
	UserID string   `json:"userId,omitempty"`
	Users  []string `json:"users,omitempty"`

	SDP         json.RawMessage `json:"sdp,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	SDPMid      *string         `json:"sdpMid,omitempty"`
	SDPMLineIdx *uint16         `json:"sdpMLineIndex,omitempty"`
	From        string          `json:"from,omitempty"`

	Message string `json:"message,omitempty"`
}

type roomInfoMessage struct {
	Type       messageType `json:"type"`
	Rooms      []room.Info `json:"rooms"`
	TotalRooms int         `json:"totalRooms"`
}

func marshalMessage(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Envelope types contain nothing unmarshalable; a failure here is a
		// programming error.
		panic(fmt.Sprintf("marshal signaling message: %v", err))
	}
	return data
}
