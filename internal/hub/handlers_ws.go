package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := newClientSession(conn, r.RemoteAddr)
	count := s.register(sess)
	defer s.deregister(sess)

	log.Info("client_connected",
		slog.String("session", sess.id),
		slog.String("remote", sess.remote),
		slog.Int("clients", count))

	// A newcomer must not wait out the suppression window for its first
	// sync. The forced poll goes through the normal broadcast path, so
	// existing sessions see one duplicate frame; they render it idempotently.
	if s.cfg.State != nil {
		s.cfg.State.ForceSync()
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				log.Warn("websocket_closed_unexpectedly",
					slog.String("session", sess.id),
					slog.String("error", err.Error()))
			} else {
				log.Info("client_disconnected", slog.String("session", sess.id))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn("message_malformed",
				slog.String("session", sess.id),
				slog.String("error", err.Error()))
			continue
		}

		switch msg.Type {
		case "ping":
			_ = sess.writer.WriteJSON(pongMessage{
				Type:      "pong",
				Timestamp: time.Now().UnixMilli(),
			})
		case "followup":
			if !sess.limiter.Allow() {
				_ = sess.writer.WriteJSON(followupAck{
					Type:       "followup_ack",
					ComposerID: msg.ComposerID,
					Status:     "error",
					Message:    "Too many automation requests; slow down",
				})
				continue
			}
			go s.dispatchFollowup(sess, msg)
		case "new_chat":
			if !sess.limiter.Allow() {
				_ = sess.writer.WriteJSON(newChatAck{
					Type:        "new_chat_ack",
					Status:      "error",
					Message:     "Too many automation requests; slow down",
					ProjectName: msg.ProjectName,
					ChatTitle:   msg.ChatTitle,
				})
				continue
			}
			go s.dispatchNewChat(sess, msg)
		default:
			log.Warn("message_unknown_type",
				slog.String("session", sess.id),
				slog.String("type", msg.Type))
		}
	}
}

// dispatchFollowup runs the automation flow off the read loop so the
// session keeps receiving broadcasts and answering pings while the
// orchestrator works. The ack goes to the issuing session only.
func (s *Server) dispatchFollowup(sess *clientSession, msg clientMessage) {
	if s.cfg.Automate == nil {
		_ = sess.writer.WriteJSON(followupAck{
			Type:       "followup_ack",
			ComposerID: msg.ComposerID,
			Status:     "error",
			Message:    "Automation is not available on this host",
		})
		return
	}

	res := s.cfg.Automate.Followup(s.baseCtx, msg.ComposerID, msg.Text)

	status := "error"
	switch {
	case res.OK:
		status = "sent"
	case res.Unavailable:
		status = "unavailable"
	}

	_ = sess.writer.WriteJSON(followupAck{
		Type:       "followup_ack",
		ComposerID: msg.ComposerID,
		ChatName:   res.ChatName,
		Status:     status,
		Message:    res.Message,
		Confidence: res.Confidence,
	})
}

func (s *Server) dispatchNewChat(sess *clientSession, msg clientMessage) {
	if s.cfg.Automate == nil {
		_ = sess.writer.WriteJSON(newChatAck{
			Type:        "new_chat_ack",
			Status:      "error",
			Message:     "Automation is not available on this host",
			ProjectName: msg.ProjectName,
			ChatTitle:   msg.ChatTitle,
		})
		return
	}

	res := s.cfg.Automate.NewChat(s.baseCtx, msg.ProjectName, msg.ChatTitle)

	status := "error"
	if res.OK {
		status = "started"
	}

	_ = sess.writer.WriteJSON(newChatAck{
		Type:        "new_chat_ack",
		Status:      status,
		Message:     res.Message,
		WindowID:    res.WindowID,
		WindowName:  res.WindowName,
		ProjectName: res.ProjectName,
		ChatTitle:   res.ChatTitle,
	})
}
