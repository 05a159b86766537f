package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authorizeRequest checks the [web] token against the request. With no token
// configured the API is open (local-only default bind). Comparison is
// constant-time regardless of where the token came from.
func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	presented := requestToken(r)
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.Token)) == 1
}

// requestToken extracts the client's token. An Authorization bearer header is
// preferred; a ?token= query parameter is accepted because browser WebSocket
// clients cannot set headers on the upgrade request.
func requestToken(r *http.Request) string {
	if scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok {
		if strings.EqualFold(strings.TrimSpace(scheme), "Bearer") {
			if tok := strings.TrimSpace(rest); tok != "" {
				return tok
			}
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
