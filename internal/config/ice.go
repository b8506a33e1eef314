package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "SIGNAL_RELAY_ICE_SERVERS_JSON"

	envStunURLs       = "SIGNAL_RELAY_STUN_URLS"
	envTurnURLs       = "SIGNAL_RELAY_TURN_URLS"
	envTurnUsername   = "SIGNAL_RELAY_TURN_USERNAME"
	envTurnCredential = "SIGNAL_RELAY_TURN_CREDENTIAL"
)

// parseICEServersFromValues builds the client-facing ICE server list. The
// JSON blob wins over the convenience STUN/TURN vars when both are set.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		iceServers, err := parseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return iceServers, nil
	}
	return parseICEServersFromConvenienceValues(stunURLs, turnURLs, turnUsername, turnCredential)
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

func parseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		urls := make([]string, 0, len(server.URLs))
		for _, url := range server.URLs {
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			urls = append(urls, url)
		}

		pcServer := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			pcServer.Credential = server.Credential
		}

		if err := validateICEServer(pcServer); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, pcServer)
	}
	return out, nil
}

func parseICEServersFromConvenienceValues(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var out []webrtc.ICEServer

	if stun := splitCommaList(stunURLs); len(stun) > 0 {
		server := webrtc.ICEServer{URLs: stun}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		out = append(out, server)
	}

	if turn := splitCommaList(turnURLs); len(turn) > 0 {
		server := webrtc.ICEServer{
			URLs:     turn,
			Username: strings.TrimSpace(turnUsername),
		}
		if strings.TrimSpace(turnCredential) != "" {
			server.Credential = turnCredential
		}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		out = append(out, server)
	}

	return out, nil
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("ice server has no urls")
	}

	hasTURN := false
	for _, raw := range server.URLs {
		scheme, rest, ok := strings.Cut(raw, ":")
		if !ok || rest == "" {
			return fmt.Errorf("invalid ice url %q", raw)
		}
		switch strings.ToLower(scheme) {
		case "stun", "stuns":
		case "turn", "turns":
			hasTURN = true
		default:
			return fmt.Errorf("unsupported ice url scheme %q in %q", scheme, raw)
		}
	}

	// Browsers reject TURN entries without credentials, so catch that at
	// startup instead of in every client.
	if hasTURN {
		if strings.TrimSpace(server.Username) == "" {
			return errors.New("turn server requires a username")
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn server requires a credential")
		}
	}

	return nil
}
