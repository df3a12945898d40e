package hub

import (
	"log/slog"

	"github.com/asheshgoplani/cursor-relay/internal/logging"
	"github.com/asheshgoplani/cursor-relay/internal/relay"
)

// Broadcast fans one serialized sync frame out to every connected session.
// The payload arrives marshaled exactly once by the watcher; every session
// receives the same bytes. A failed write is logged and costs that session
// its registration, never the delivery to anyone else. Satisfies relay.Sink.
func (s *Server) Broadcast(payload []byte, convs []relay.Conversation) {
	sessions := s.liveSessions()
	if len(sessions) > 0 {
		log.Debug("broadcast",
			slog.Int("sessions", len(sessions)),
			slog.Int("conversations", len(convs)),
			slog.Int("bytes", len(payload)))
	}

	for _, c := range sessions {
		if err := c.writer.WriteText(payload); err != nil {
			log.Warn("broadcast_send_failed",
				slog.String("session", c.id),
				slog.String("remote", c.remote),
				slog.String("error", err.Error()))
			s.deregister(c)
			_ = c.conn.Close()
		} else {
			logging.Aggregate(logging.CompHub, "sync_sent")
		}
	}

	if s.push != nil {
		s.push.TriggerSync()
	}
}
