package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/huddlehq/huddle-recorder/internal/types"
)

const (
	// statusInterval is the cadence of unsolicited status pushes.
	statusInterval = 3 * time.Second
	// sendBuffer is the per-client outbound backlog.
	sendBuffer = 64
	// maxCommandSize bounds one inbound command frame.
	maxCommandSize = 64 << 10
	// writeWait bounds one outbound frame write.
	writeWait = 10 * time.Second
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
	SetWriteDeadline(t time.Time) error
}

// EventMessage wraps a session event pushed to the client.
type EventMessage struct {
	Type  string      `json:"type"` // "event"
	Event types.Event `json:"event"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests omit the Origin header
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}

	host := u.Hostname()
	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	// The status server is local; only loopback UIs may drive it.
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// Bridge serves the UI WebSocket: each client gets the status on connect,
// every session event, a periodic status push, and responses to its commands.
type Bridge struct {
	session  Session
	commands *CommandHandler
}

// NewBridge returns a bridge for sess.
func NewBridge(sess Session, commands *CommandHandler) *Bridge {
	return &Bridge{session: sess, commands: commands}
}

// ServeHTTP upgrades the request and serves the client until it disconnects
// or the session ends.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxCommandSize)
	b.serve(conn)
}

func (b *Bridge) serve(conn WebSocketConn) {
	// The send channel is never closed: async command handlers may still
	// reply after the client left. quit stops the writer instead.
	send := make(chan any, sendBuffer)
	done := make(chan struct{})
	quit := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	events, unsubscribe := b.session.Subscribe()
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		runWebSocketWriter(conn, send, quit)
	}()
	go b.runWebSocketReader(conn, send, done, statusUpdate)

	b.runWebSocketEventLoop(send, events, done, statusUpdate)
	close(quit)
	<-writerDone
	<-done
}

// runWebSocketWriter writes messages from the send channel to the connection.
// It is the only writer. Closing the connection unblocks the reader.
func runWebSocketWriter(conn WebSocketConn, send <-chan any, quit <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case <-quit:
			return
		case msg := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (b *Bridge) runWebSocketReader(conn WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		b.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes status and session events until the client
// disconnects or the event feed closes.
func (b *Bridge) runWebSocketEventLoop(send chan<- any, events <-chan types.Event, done <-chan struct{}, statusUpdate <-chan struct{}) {
	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(b.session.Status()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				slog.Debug("session ended, closing WebSocket")
				return
			}
			msg = EventMessage{Type: "event", Event: ev}
		case <-statusUpdate:
			msg = b.session.Status()
		case <-statusTicker.C:
			msg = b.session.Status()
		}
		if !trySend(msg) {
			return
		}
	}
}
