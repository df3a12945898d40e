package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/asheshgoplani/cursor-relay/internal/relay"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type statusResponse struct {
	Status        string `json:"status"`
	UptimeSecs    int64  `json:"uptimeSecs"`
	Clients       int    `json:"clients"`
	Conversations int    `json:"conversations"`
	LastPoll      string `json:"lastPoll,omitempty"`
	LastBroadcast string `json:"lastBroadcast,omitempty"`
	StorePath     string `json:"storePath,omitempty"`
	PushEnabled   bool   `json:"pushEnabled"`
}

type searchResponse struct {
	Query   string              `json:"query"`
	Matches []relay.SearchMatch `json:"matches"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	resp := statusResponse{
		Status:      "ok",
		UptimeSecs:  int64(time.Since(s.startedAt).Seconds()),
		Clients:     s.sessionCount(),
		StorePath:   s.cfg.StorePath,
		PushEnabled: s.push != nil && s.push.Enabled(),
	}
	if s.cfg.State != nil {
		stats := s.cfg.State.Stats()
		resp.Conversations = stats.Conversations
		if !stats.LastPoll.IsZero() {
			resp.LastPoll = stats.LastPoll.UTC().Format(time.RFC3339)
		}
		if !stats.LastBroadcast.IsZero() {
			resp.LastBroadcast = stats.LastBroadcast.UTC().Format(time.RFC3339)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "query parameter q is required")
		return
	}

	resp := searchResponse{Query: query, Matches: []relay.SearchMatch{}}
	if s.cfg.Search != nil {
		if matches := s.cfg.Search.Search(query); matches != nil {
			resp.Matches = matches
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
