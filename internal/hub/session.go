package hub

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// automationBurst and automationRate bound how fast a single session can
// issue followup/new_chat commands. Automation holds the app's focus for
// seconds at a time, so a runaway client must not be able to queue an
// unbounded backlog against the slot.
const (
	automationBurst = 3
	automationRate  = rate.Limit(1) // per second
)

var sessionSeq atomic.Int64

// wsConnWriter serializes writes to a websocket connection. The read loop,
// async command acks and broadcasts all write to the same conn; gorilla
// allows one concurrent writer.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) WriteText(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// clientSession is one connected websocket client.
type clientSession struct {
	id          string
	writer      *wsConnWriter
	conn        *websocket.Conn
	remote      string
	connectedAt time.Time
	limiter     *rate.Limiter
}

func newClientSession(conn *websocket.Conn, remote string) *clientSession {
	return &clientSession{
		id:          fmt.Sprintf("c%d", sessionSeq.Add(1)),
		writer:      newWSConnWriter(conn),
		conn:        conn,
		remote:      remote,
		connectedAt: time.Now(),
		limiter:     rate.NewLimiter(automationRate, automationBurst),
	}
}
