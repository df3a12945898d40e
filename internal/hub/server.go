// Package hub exposes the relay to remote clients: a websocket fan-out of
// conversation sync frames, the inbound command surface (followup, new_chat,
// ping), and the small HTTP API around it.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/asheshgoplani/cursor-relay/internal/automation"
	"github.com/asheshgoplani/cursor-relay/internal/logging"
	"github.com/asheshgoplani/cursor-relay/internal/relay"
)

var log = logging.ForComponent(logging.CompHub)

// StateSource is the watcher surface the hub needs: a forced resync when a
// client connects and stats for /api/status.
type StateSource interface {
	ForceSync()
	Stats() relay.Stats
}

// Automator executes client commands. automation.Orchestrator satisfies it.
type Automator interface {
	Followup(ctx context.Context, composerID, text string) automation.Result
	NewChat(ctx context.Context, projectName, chatTitle string) automation.NewChatResult
}

// Searcher answers /api/search. relay.SearchIndex satisfies it.
type Searcher interface {
	Search(query string) []relay.SearchMatch
}

// Config defines runtime options for the hub server.
type Config struct {
	Host      string
	Port      int
	Token     string
	StorePath string

	State    StateSource
	Automate Automator
	Search   Searcher

	// Latest snapshot accessor for push diffing (watcher.Snapshot).
	Snapshot func() []relay.Conversation

	PushEnabled         bool
	PushVAPIDPublicKey  string
	PushVAPIDPrivateKey string
	PushSubject         string
}

// Server accepts websocket clients and fans conversation syncs out to them.
type Server struct {
	cfg        Config
	httpServer *http.Server
	push       pushAPI
	baseCtx    context.Context
	cancelBase context.CancelFunc
	startedAt  time.Time

	sessionsMu sync.Mutex
	sessions   map[*clientSession]struct{}
}

// NewServer wires the routes and middleware. Call Start to listen.
func NewServer(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port <= 0 {
		cfg.Port = 8787
	}

	s := &Server{
		cfg:       cfg,
		sessions:  make(map[*clientSession]struct{}),
		startedAt: time.Now(),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	if pushSvc, err := newPushService(cfg); err != nil {
		log.Warn("push_disabled", slog.String("error", err.Error()))
	} else if pushSvc != nil {
		s.push = pushSvc
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/push/vapid-public-key", s.handlePushConfig)
	mux.HandleFunc("/api/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("/api/push/unsubscribe", s.handlePushUnsubscribe)
	mux.HandleFunc("/api/push/presence", s.handlePushPresence)

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	if s.push != nil {
		s.push.Start(s.baseCtx)
	}
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived websocket handlers to stop promptly.
		s.cancelBase()
	}
	s.closeAllSessions()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Lingering connections may still block graceful shutdown. Force close
	// as a fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}

	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("hub-server(addr=%s, auth=%t)", s.httpServer.Addr, s.cfg.Token != "")
}

func (s *Server) register(c *clientSession) int {
	s.sessionsMu.Lock()
	s.sessions[c] = struct{}{}
	n := len(s.sessions)
	s.sessionsMu.Unlock()
	return n
}

func (s *Server) deregister(c *clientSession) {
	s.sessionsMu.Lock()
	delete(s.sessions, c)
	s.sessionsMu.Unlock()
}

func (s *Server) sessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}

func (s *Server) liveSessions() []*clientSession {
	s.sessionsMu.Lock()
	out := make([]*clientSession, 0, len(s.sessions))
	for c := range s.sessions {
		out = append(out, c)
	}
	s.sessionsMu.Unlock()
	return out
}

func (s *Server) closeAllSessions() {
	for _, c := range s.liveSessions() {
		_ = c.conn.Close()
	}
}
