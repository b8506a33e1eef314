package config

import (
	"strings"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	raw := `[
		{"urls": "stun:stun.example.com:3478"},
		{"urls": ["turn:turn.example.com:3478", "turns:turn.example.com:5349"],
		 "username": "user", "credential": "secret"}
	]`

	servers, err := parseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Errorf("stun url = %q", servers[0].URLs[0])
	}
	if len(servers[1].URLs) != 2 || servers[1].Username != "user" {
		t.Errorf("turn server = %+v", servers[1])
	}
	if cred, ok := servers[1].Credential.(string); !ok || cred != "secret" {
		t.Errorf("credential = %v", servers[1].Credential)
	}
}

func TestParseICEServersJSONRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", `{{`, "invalid character"},
		{"no urls", `[{"username":"u"}]`, "no urls"},
		{"bad scheme", `[{"urls":"http://example.com"}]`, "unsupported ice url scheme"},
		{"turn without username", `[{"urls":"turn:t.example.com","credential":"s"}]`, "requires a username"},
		{"turn without credential", `[{"urls":"turn:t.example.com","username":"u"}]`, "requires a credential"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseICEServersJSON(tt.raw)
			if err == nil {
				t.Fatal("want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestParseICEServersConvenienceVars(t *testing.T) {
	servers, err := parseICEServersFromValues("",
		"stun:stun1.example.com:3478, stun:stun2.example.com:3478",
		"turn:turn.example.com:3478",
		"user", "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Errorf("stun urls = %v", servers[0].URLs)
	}
	if servers[1].Username != "user" {
		t.Errorf("turn username = %q", servers[1].Username)
	}
}

func TestParseICEServersJSONWinsOverConvenienceVars(t *testing.T) {
	servers, err := parseICEServersFromValues(
		`[{"urls":"stun:json.example.com:3478"}]`,
		"stun:ignored.example.com:3478", "", "", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example.com:3478" {
		t.Fatalf("servers = %+v", servers)
	}
}

func TestParseICEServersTurnVarsRequireCredentials(t *testing.T) {
	_, err := parseICEServersFromValues("", "", "turn:turn.example.com:3478", "", "")
	if err == nil || !strings.Contains(err.Error(), "username") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadICEServersFromEnv(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		envStunURLs: "stun:stun.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ice servers = %+v", cfg.ICEServers)
	}
}
