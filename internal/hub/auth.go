package hub

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authorizeRequest checks the shared token on /ws and /api requests. An
// empty configured token disables auth for local use. Clients present the
// token as a ?token= query parameter (browser websocket dials cannot set
// headers) or as an Authorization bearer header.
func (s *Server) authorizeRequest(r *http.Request) bool {
	token := s.cfg.Token
	if token == "" {
		return true
	}
	if tokenEqual(r.URL.Query().Get("token"), token) {
		return true
	}
	return tokenEqual(bearerToken(r.Header.Get("Authorization")), token)
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// tokenEqual compares in constant time; an empty candidate never matches.
func tokenEqual(candidate, want string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(want)) == 1
}
