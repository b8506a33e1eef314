package httpserver

import (
	"net/http"
	"net/url"
	"strings"
)

// WithOriginPolicy enforces the browser origin allowlist on a handler. It
// also wraps the signaling WebSocket route, which is why the upgrade path
// does not run its own origin check.
//
// Requests without an Origin header (curl, native mobile clients) pass
// through. An empty allowlist allows every origin, which fits the default
// localhost-only listen address; production deployments set ALLOWED_ORIGINS.
func (s *Server) WithOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next(w, r)
			return
		}

		normalized, ok := normalizeOrigin(originHeader)
		if !ok || !originAllowed(normalized, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		// CORS headers let the signaling frontend run on a separate origin
		// during development.
		w.Header().Set("Access-Control-Allow-Origin", normalized)
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
			if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// normalizeOrigin validates an Origin header and returns it in canonical
// scheme://host[:port] form with default ports stripped. The sandboxed
// Origin value "null" is returned as-is so deployments can allowlist it
// explicitly.
func normalizeOrigin(header string) (string, bool) {
	if header == "null" {
		return "null", true
	}

	u, err := url.Parse(header)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}

	return scheme + "://" + host, true
}

func originAllowed(normalized string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, entry := range allowed {
		if entry == "*" {
			return true
		}
		if candidate, ok := normalizeOrigin(strings.TrimSpace(entry)); ok && candidate == normalized {
			return true
		}
	}
	return false
}
