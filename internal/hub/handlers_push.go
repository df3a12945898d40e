package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Push endpoints for the browser client. The client fetches the VAPID key
// here before subscribing through its service worker, and reports page
// focus so pushes pause while the conversation is already on screen.

type pushConfigResponse struct {
	Enabled           bool   `json:"enabled"`
	VAPIDPublicKey    string `json:"vapidPublicKey,omitempty"`
	Subject           string `json:"subject,omitempty"`
	SubscriptionCount int    `json:"subscriptionCount,omitempty"`
}

type pushResultResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type pushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Focused is a pointer so a payload that omits the field is rejected
// rather than read as false.
type pushPresenceRequest struct {
	Endpoint string `json:"endpoint"`
	Focused  *bool  `json:"focused"`
}

// requirePushService runs the checks shared by the push mutation
// endpoints. It writes the error response itself and reports whether the
// handler should proceed.
func (s *Server) requirePushService(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return false
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return false
	}
	if s.push == nil || !s.push.Enabled() {
		writeAPIError(w, http.StatusServiceUnavailable, "PUSH_NOT_CONFIGURED", "push notifications are not configured")
		return false
	}
	return true
}

func decodePushRequest(w http.ResponseWriter, r *http.Request, dst any, what string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid "+what+" payload")
		return false
	}
	return true
}

// handlePushConfig answers even when push is disabled so the client can
// decide whether to offer notifications at all.
func (s *Server) handlePushConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	if s.push == nil || !s.push.Enabled() {
		writeJSON(w, http.StatusOK, pushConfigResponse{})
		return
	}

	resp := pushConfigResponse{
		Enabled:        true,
		VAPIDPublicKey: s.push.PublicKey(),
		Subject:        s.push.Subject(),
	}
	n, err := s.push.SubscriptionCount(r.Context())
	if err != nil {
		pushLog.Error("push_count_failed", slog.String("error", err.Error()))
	} else {
		resp.SubscriptionCount = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.requirePushService(w, r, http.MethodPost) {
		return
	}

	var sub pushSubscription
	if !decodePushRequest(w, r, &sub, "subscription") {
		return
	}
	sub = sub.normalize()
	if err := sub.validate(); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := s.push.UpsertSubscription(r.Context(), sub); err != nil {
		pushLog.Error("push_subscribe_failed",
			slog.String("endpoint", endpointForLog(sub.Endpoint)),
			slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to save push subscription")
		return
	}

	pushLog.Info("push_subscribed", slog.String("endpoint", endpointForLog(sub.Endpoint)))
	writeJSON(w, http.StatusOK, pushResultResponse{OK: true, Message: "subscription saved"})
}

func (s *Server) handlePushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.requirePushService(w, r, http.MethodPost) {
		return
	}

	var req pushUnsubscribeRequest
	if !decodePushRequest(w, r, &req, "unsubscribe") {
		return
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "endpoint is required")
		return
	}

	if err := s.push.RemoveSubscriptionByEndpoint(r.Context(), endpoint); err != nil {
		pushLog.Error("push_unsubscribe_failed",
			slog.String("endpoint", endpointForLog(endpoint)),
			slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to remove push subscription")
		return
	}

	pushLog.Info("push_unsubscribed", slog.String("endpoint", endpointForLog(endpoint)))
	writeJSON(w, http.StatusOK, pushResultResponse{OK: true, Message: "subscription removed"})
}

func (s *Server) handlePushPresence(w http.ResponseWriter, r *http.Request) {
	if !s.requirePushService(w, r, http.MethodPost) {
		return
	}

	var req pushPresenceRequest
	if !decodePushRequest(w, r, &req, "presence") {
		return
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" || req.Focused == nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "endpoint and focused are required")
		return
	}

	if err := s.push.UpdateSubscriptionFocus(r.Context(), endpoint, *req.Focused); err != nil {
		pushLog.Error("push_presence_failed",
			slog.String("endpoint", endpointForLog(endpoint)),
			slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to update push presence")
		return
	}

	pushLog.Debug("push_presence_updated",
		slog.String("endpoint", endpointForLog(endpoint)),
		slog.Bool("focused", *req.Focused))
	writeJSON(w, http.StatusOK, pushResultResponse{OK: true, Message: "push presence updated"})
}
