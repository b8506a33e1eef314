package signaling

import (
	"strings"
	"testing"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name: "createRoom ok",
			raw:  `{"type":"createRoom","roomId":"lobby"}`,
		},
		{
			name:    "createRoom missing roomId",
			raw:     `{"type":"createRoom"}`,
			wantErr: "missing roomId",
		},
		{
			name: "joinRoom ok",
			raw:  `{"type":"joinRoom","roomId":"lobby","userId":"alice"}`,
		},
		{
			name:    "joinRoom missing userId",
			raw:     `{"type":"joinRoom","roomId":"lobby"}`,
			wantErr: "missing roomId or userId",
		},
		{
			name: "leaveRoom has no required fields",
			raw:  `{"type":"leaveRoom"}`,
		},
		{
			name: "getRoomInfo has no required fields",
			raw:  `{"type":"getRoomInfo"}`,
		},
		{
			name: "offer ok",
			raw:  `{"type":"offer","targetUserId":"bob","sdp":{"type":"offer","sdp":"v=0"}}`,
		},
		{
			name:    "offer missing sdp",
			raw:     `{"type":"offer","targetUserId":"bob"}`,
			wantErr: "missing sdp",
		},
		{
			name:    "answer missing target",
			raw:     `{"type":"answer","sdp":{"type":"answer","sdp":"v=0"}}`,
			wantErr: "missing targetUserId",
		},
		{
			name: "iceCandidate ok",
			raw:  `{"type":"iceCandidate","targetUserId":"bob","candidate":"candidate:1 1 udp 1 1.2.3.4 5 typ host","sdpMid":"0","sdpMLineIndex":0}`,
		},
		{
			name:    "iceCandidate missing sdpMid",
			raw:     `{"type":"iceCandidate","targetUserId":"bob","candidate":"c","sdpMLineIndex":0}`,
			wantErr: "missing sdpMid or sdpMLineIndex",
		},
		{
			name:    "iceCandidate missing candidate",
			raw:     `{"type":"iceCandidate","targetUserId":"bob","sdpMid":"0","sdpMLineIndex":0}`,
			wantErr: "missing candidate",
		},
		{
			name:    "unknown type",
			raw:     `{"type":"subscribe"}`,
			wantErr: `unknown message type "subscribe"`,
		},
		{
			name:    "missing type",
			raw:     `{"roomId":"lobby"}`,
			wantErr: "missing message type",
		},
		{
			name:    "malformed json",
			raw:     `{"type":`,
			wantErr: "malformed message",
		},
		{
			name: "extra fields tolerated",
			raw:  `{"type":"offer","roomId":"lobby","targetUserId":"bob","sdp":{"sdp":"v=0"},"clientVersion":"2.1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := parseClientMessage([]byte(tt.raw))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("parse: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("want error containing %q, got message %+v", tt.wantErr, msg)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseClientMessagePreservesRawPayloads(t *testing.T) {
	raw := `{"type":"offer","targetUserId":"bob","sdp":{"type":"offer","sdp":"v=0\r\no=- 1 1 IN IP4 0.0.0.0"}}`
	msg, err := parseClientMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(msg.SDP) != `{"type":"offer","sdp":"v=0\r\no=- 1 1 IN IP4 0.0.0.0"}` {
		t.Fatalf("sdp not preserved byte for byte: %s", msg.SDP)
	}
}
