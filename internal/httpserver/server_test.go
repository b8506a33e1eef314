package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/meshroom/signal-relay/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s := New(cfg, testLogger(), BuildInfo{Commit: "abc123", BuildTime: "2026-01-02T03:04:05Z"})
	s.ready.Store(true)
	return s
}

func doRequest(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, config.Config{})

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
}

func TestReadyzReflectsReadiness(t *testing.T) {
	s := newTestServer(t, config.Config{})

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200", rec.Code)
	}

	s.ready.Store(false)
	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status after shutdown = %d, want 503", rec.Code)
	}
}

func TestVersionReportsBuildInfo(t *testing.T) {
	s := newTestServer(t, config.Config{})

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/version", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("version status = %d, want 200", rec.Code)
	}

	var got BuildInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal version body: %v", err)
	}
	if got.Commit != "abc123" {
		t.Fatalf("commit = %q, want abc123", got.Commit)
	}
}

func TestICEHandoutReturnsConfiguredServers(t *testing.T) {
	s := newTestServer(t, config.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
		},
	})

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/webrtc/ice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ice status = %d, want 200", rec.Code)
	}

	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal ice body: %v", err)
	}
	if len(body.ICEServers) != 1 || len(body.ICEServers[0].URLs) != 1 {
		t.Fatalf("unexpected ice body: %s", rec.Body.String())
	}
	if body.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("ice url = %q", body.ICEServers[0].URLs[0])
	}
}

func TestICEHandoutEmptyConfig(t *testing.T) {
	s := newTestServer(t, config.Config{})

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/webrtc/ice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ice status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"iceServers":[]`) {
		t.Fatalf("want empty iceServers array, got %s", rec.Body.String())
	}
}

func TestRequestIDIsEchoedAndGenerated(t *testing.T) {
	s := newTestServer(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := doRequest(t, s, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("request id = %q, want req-42", got)
	}

	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantStatus int
	}{
		{"no origin header passes", []string{"https://app.example.com"}, "", http.StatusOK},
		{"empty allowlist allows any", nil, "https://anything.example.net", http.StatusOK},
		{"exact match allowed", []string{"https://app.example.com"}, "https://app.example.com", http.StatusOK},
		{"default port normalized", []string{"https://app.example.com"}, "https://app.example.com:443", http.StatusOK},
		{"case insensitive host", []string{"https://app.example.com"}, "https://APP.Example.COM", http.StatusOK},
		{"wildcard entry", []string{"*"}, "https://anything.example.net", http.StatusOK},
		{"unlisted origin rejected", []string{"https://app.example.com"}, "https://evil.example.net", http.StatusForbidden},
		{"malformed origin rejected", []string{"https://app.example.com"}, "not a url", http.StatusForbidden},
		{"null origin rejected unless listed", []string{"https://app.example.com"}, "null", http.StatusForbidden},
		{"null origin allowed when listed", []string{"null"}, "null", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, config.Config{AllowedOrigins: tt.allowed})

			called := false
			handler := s.WithOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/webrtc/ice", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if (tt.wantStatus == http.StatusOK) != called {
				t.Fatalf("handler called = %v for status %d", called, tt.wantStatus)
			}
		})
	}
}

func TestOriginPolicyPreflight(t *testing.T) {
	s := newTestServer(t, config.Config{AllowedOrigins: []string{"https://app.example.com"}})

	handler := s.WithOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("route handler must not run for preflight")
	})

	req := httptest.NewRequest(http.MethodOptions, "/webrtc/ice", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow-origin = %q", got)
	}
}
