package connection

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

const (
	// writeTimeout bounds a single outbound frame.
	writeTimeout = 5 * time.Second
	// closeWait bounds how long Close waits for the read loop after the close frame.
	closeWait = 2 * time.Second
)

// Message is one inbound frame, tagged with the channel it arrived on.
type Message struct {
	Channel types.ChannelName
	Data    []byte
}

// channelSink receives a channel's inbound frames and state transitions.
type channelSink interface {
	deliver(Message)
	stateChanged(types.ChannelState)
}

// Channel is one logical message channel with its own reconnect state machine:
// Disconnected -> Connecting -> Open -> (Closing) -> Disconnected. A non-clean
// drop schedules a reconnect after base*attempt; once the attempt cap is spent
// the channel stays Disconnected (exhausted) until an explicit Connect.
type Channel struct {
	name           types.ChannelName
	url            string
	dialer         Dialer
	backoff        *util.Backoff
	connectTimeout time.Duration
	sink           channelSink
	onOpen         func()

	dialMu  sync.Mutex // serializes dial attempts
	writeMu sync.Mutex // one writer per connection

	mu              sync.Mutex
	status          types.ChannelStatus
	conn            Conn
	gen             uint64
	readDone        chan struct{}
	lastCloseReason string
	exhausted       bool
	closing         bool // intentional close of the current connection
	shutdown        bool // manager closed; no further dials
	timer           *time.Timer
}

func newChannel(name types.ChannelName, url string, dialer Dialer, backoff *util.Backoff, connectTimeout time.Duration, sink channelSink) *Channel {
	return &Channel{
		name:           name,
		url:            url,
		dialer:         dialer,
		backoff:        backoff,
		connectTimeout: connectTimeout,
		sink:           sink,
		status:         types.StatusDisconnected,
	}
}

// Name returns the channel name.
func (c *Channel) Name() types.ChannelName {
	return c.name
}

// State returns a point-in-time view of the channel.
func (c *Channel) State() types.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Channel) stateLocked() types.ChannelState {
	return types.ChannelState{
		Channel:           c.name,
		Status:            c.status,
		ReconnectAttempts: c.backoff.Attempt(),
		LastCloseReason:   c.lastCloseReason,
		Exhausted:         c.exhausted,
		Generation:        c.gen,
	}
}

// notify publishes the current state. Must be called without c.mu held.
func (c *Channel) notify() {
	c.sink.stateChanged(c.State())
}

// open dials the channel unless it is already Open. An explicit open clears
// an exhausted reconnect budget.
func (c *Channel) open(ctx context.Context) error {
	c.mu.Lock()
	if c.exhausted {
		c.exhausted = false
		c.backoff.Reset()
	}
	c.mu.Unlock()
	return c.dial(ctx)
}

// resetBudget clears the attempt counter and the exhausted flag.
func (c *Channel) resetBudget() {
	c.mu.Lock()
	c.exhausted = false
	c.backoff.Reset()
	c.mu.Unlock()
}

// dial runs one connection attempt. On failure a reconnect is scheduled.
func (c *Channel) dial(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status == types.StatusOpen {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.status = types.StatusConnecting
	c.mu.Unlock()
	c.notify()

	slog.Debug("dialing channel", "channel", c.name, "url", c.url, "attempt", c.backoff.Attempt())
	conn, err := c.dialer.Dial(ctx, c.url)

	c.mu.Lock()
	if c.shutdown {
		c.status = types.StatusDisconnected
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		c.notify()
		return ErrClosed
	}
	if err != nil {
		c.status = types.StatusDisconnected
		c.lastCloseReason = err.Error()
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		slog.Warn("channel connect failed", "channel", c.name, "error", err)
		c.notify()
		return err
	}

	c.gen++
	gen := c.gen
	c.conn = conn
	c.closing = false
	c.readDone = make(chan struct{})
	readDone := c.readDone
	c.status = types.StatusOpen
	c.lastCloseReason = ""
	c.exhausted = false
	c.backoff.Reset()
	onOpen := c.onOpen
	c.mu.Unlock()

	slog.Info("channel open", "channel", c.name)
	c.notify()

	go c.readLoop(conn, gen, readDone)

	if onOpen != nil {
		onOpen()
	}
	return nil
}

// scheduleReconnectLocked arms the reconnect timer or marks the channel
// exhausted. Caller must hold c.mu.
func (c *Channel) scheduleReconnectLocked() {
	if c.shutdown {
		return
	}
	delay, ok := c.backoff.Next()
	if !ok {
		c.exhausted = true
		slog.Error("channel reconnect attempts exhausted", "channel", c.name, "attempts", c.backoff.Attempt())
		return
	}
	attempt := c.backoff.Attempt()
	slog.Info("channel reconnect scheduled", "channel", c.name, "attempt", attempt, "delay", delay)

	c.stopTimerLocked()
	c.timer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
		defer cancel()
		_ = c.dial(ctx) //nolint:errcheck // Failure schedules the next attempt
	})
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) readLoop(conn Conn, gen uint64, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, gen, err)
			return
		}
		c.sink.deliver(Message{Channel: c.name, Data: data})
	}
}

// handleClose transitions to Disconnected after the read side ends. A drop
// that was neither requested locally nor a normal close from the server
// schedules a reconnect.
func (c *Channel) handleClose(conn Conn, gen uint64, err error) {
	_ = conn.Close()

	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	clean := c.closing || c.shutdown || websocket.IsCloseError(err, websocket.CloseNormalClosure)
	reason := closeReason(err)
	c.conn = nil
	c.status = types.StatusDisconnected
	c.lastCloseReason = reason
	if !clean {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	if clean {
		slog.Info("channel closed", "channel", c.name, "reason", reason)
	} else {
		slog.Warn("channel dropped", "channel", c.name, "reason", reason)
	}
	c.notify()
}

// closeReason renders a read error as a short close reason.
func closeReason(err error) string {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return err.Error()
	}
	if ce.Text != "" {
		return ce.Text
	}
	switch ce.Code {
	case websocket.CloseNormalClosure:
		return "normal closure"
	case websocket.CloseGoingAway:
		return "going away"
	case websocket.CloseAbnormalClosure:
		return "abnormal closure"
	default:
		return "close code " + strconv.Itoa(ce.Code)
	}
}

// send writes one text frame. It never queues: a channel that is not Open
// returns ErrNotOpen.
func (c *Channel) send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	open := c.status == types.StatusOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// close ends the current connection without scheduling a reconnect.
// With final set the channel refuses further dials.
func (c *Channel) close(final bool) {
	c.mu.Lock()
	if final {
		c.shutdown = true
	}
	c.stopTimerLocked()
	conn := c.conn
	done := c.readDone
	if conn == nil {
		c.status = types.StatusDisconnected
		c.mu.Unlock()
		c.notify()
		return
	}
	c.closing = true
	c.status = types.StatusClosing
	c.mu.Unlock()
	c.notify()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	_ = conn.Close()

	select {
	case <-done:
	case <-time.After(closeWait):
		slog.Warn("channel read loop did not exit in time", "channel", c.name)
	}
}
