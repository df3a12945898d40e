package ui

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/cursor-relay/internal/logging"
	"github.com/asheshgoplani/cursor-relay/internal/relay"
)

var log = logging.ForComponent(logging.CompUI)

// redial backoff bounds for the feed loop.
const (
	feedBackoffMin = time.Second
	feedBackoffMax = 5 * time.Second
)

// feedConnectedMsg signals the daemon connection came up.
type feedConnectedMsg struct{}

// feedDownMsg signals the connection dropped; the feed keeps redialing.
type feedDownMsg struct {
	info string
}

// feedSyncMsg carries a full conversation snapshot from a sync frame.
type feedSyncMsg struct {
	rooms []relay.Conversation
}

// feedAckMsg carries a follow-up acknowledgement addressed to this client.
type feedAckMsg struct {
	ack ackFrame
}

// ackFrame mirrors the daemon's follow-up acknowledgement.
type ackFrame struct {
	Type       string   `json:"type"`
	ComposerID string   `json:"composerId"`
	ChatName   string   `json:"chatName"`
	Status     string   `json:"status"`
	Message    string   `json:"message"`
	Confidence *float64 `json:"confidence"`
}

// followupFrame is the outbound follow-up command.
type followupFrame struct {
	Type       string `json:"type"`
	ComposerID string `json:"composerId"`
	Text       string `json:"text"`
}

// Feed maintains the websocket connection to the daemon, redialing with
// backoff, and converts inbound frames to tea messages. One goroutine owns
// the read side; Send writes from the program goroutine under a mutex.
type Feed struct {
	wsURL string
	token string

	mu   sync.Mutex
	conn *websocket.Conn

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewFeed prepares a feed for wsURL (ws://host:port/ws). token is appended
// as a query parameter when non-empty.
func NewFeed(wsURL, token string) *Feed {
	return &Feed{
		wsURL:   wsURL,
		token:   token,
		closeCh: make(chan struct{}),
	}
}

func (f *Feed) dialURL() string {
	if f.token == "" {
		return f.wsURL
	}
	u, err := url.Parse(f.wsURL)
	if err != nil {
		return f.wsURL
	}
	q := u.Query()
	q.Set("token", f.token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Run dials and reads until Close, pushing events into out. Call from a
// goroutine before the program starts consuming.
func (f *Feed) Run(out chan<- tea.Msg) {
	backoff := feedBackoffMin
	lastInfo := ""
	emitDown := func(info string) {
		// Redial attempts repeat the same failure; report it once.
		if info == lastInfo {
			return
		}
		lastInfo = info
		select {
		case out <- feedDownMsg{info: info}:
		case <-f.closeCh:
		}
	}

	for {
		select {
		case <-f.closeCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(f.dialURL(), nil)
		if err != nil {
			log.Debug("feed_dial_failed", slog.String("error", err.Error()))
			emitDown(err.Error())
			select {
			case <-f.closeCh:
				return
			case <-time.After(backoff):
			}
			if backoff < feedBackoffMax {
				backoff += time.Second
			}
			continue
		}

		f.setConn(conn)
		backoff = feedBackoffMin
		lastInfo = ""
		select {
		case out <- feedConnectedMsg{}:
		case <-f.closeCh:
			conn.Close()
			return
		}

		err = f.readLoop(conn, out)
		f.setConn(nil)
		conn.Close()

		select {
		case <-f.closeCh:
			return
		default:
		}
		if err != nil {
			log.Debug("feed_read_failed", slog.String("error", err.Error()))
			emitDown("connection lost")
		}
	}
}

func (f *Feed) readLoop(conn *websocket.Conn, out chan<- tea.Msg) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			log.Debug("feed_frame_malformed", slog.String("error", err.Error()))
			continue
		}

		switch probe.Type {
		case "sync":
			var payload relay.SyncPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				log.Debug("feed_sync_malformed", slog.String("error", err.Error()))
				continue
			}
			if !f.emit(out, feedSyncMsg{rooms: payload.Rooms}) {
				return nil
			}
		case "followup_ack":
			var ack ackFrame
			if err := json.Unmarshal(data, &ack); err != nil {
				log.Debug("feed_ack_malformed", slog.String("error", err.Error()))
				continue
			}
			if !f.emit(out, feedAckMsg{ack: ack}) {
				return nil
			}
		default:
			// pong and new_chat_ack frames are not rendered here.
		}
	}
}

func (f *Feed) emit(out chan<- tea.Msg, msg tea.Msg) bool {
	select {
	case out <- msg:
		return true
	case <-f.closeCh:
		return false
	}
}

func (f *Feed) setConn(conn *websocket.Conn) {
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
}

// SendFollowup writes a follow-up command for composerID on the live
// connection.
func (f *Feed) SendFollowup(composerID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("ui: not connected")
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := f.conn.WriteJSON(followupFrame{
		Type:       "followup",
		ComposerID: composerID,
		Text:       text,
	}); err != nil {
		return fmt.Errorf("ui: send followup: %w", err)
	}
	return nil
}

// Close stops the feed. The open connection is closed to unblock the read
// loop. Safe to call multiple times.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.closeCh)
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.Close()
		}
		f.mu.Unlock()
	})
}

// waitFeedMsg pulls the next feed event into the program. Re-arm after
// every received message.
func waitFeedMsg(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}
