// Package connection owns the two per-session message channels (meeting and
// coordination), their reconnection state machines and inbound dispatch.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/api"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

// inboundBuffer absorbs bursts while the scheduler loop is busy.
const inboundBuffer = 64

// Handler processes one inbound message of a registered type.
type Handler func(ch types.ChannelName, data []byte)

// Options configures a Manager.
type Options struct {
	BaseURL        string
	Dialer         Dialer
	ConnectTimeout time.Duration
	BaseDelay      time.Duration
	MaxAttempts    int
}

// Manager owns the meeting and coordination channels of one session.
// Inbound frames are exposed as a channel so a single scheduler loop can
// consume them; Dispatch routes a frame to its handler. State transitions are
// coalesced into a change signal, after which States reports the current view.
type Manager struct {
	session        types.Session
	connectTimeout time.Duration
	channels       map[types.ChannelName]*Channel

	inbound chan Message
	changed chan struct{}
	done    chan struct{}

	// bgCtx bounds background dials; Close cancels it and waits on dials.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	dials    sync.WaitGroup

	mu       sync.RWMutex
	handlers map[string]Handler
	hooks    map[types.ChannelName][]func()

	closeOnce sync.Once
}

// NewManager creates the channels for sess. Nothing is dialed until Connect.
func NewManager(sess types.Session, opts Options) (*Manager, error) {
	if opts.Dialer == nil {
		return nil, errors.New("connection: dialer is required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = types.ConnectTimeout
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = types.ReconnectBaseDelay
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	m := &Manager{
		bgCtx:          bgCtx,
		bgCancel:       bgCancel,
		session:        sess,
		connectTimeout: opts.ConnectTimeout,
		channels:       make(map[types.ChannelName]*Channel, 2),
		inbound:        make(chan Message, inboundBuffer),
		changed:        make(chan struct{}, 1),
		done:           make(chan struct{}),
		handlers:       make(map[string]Handler),
		hooks:          make(map[types.ChannelName][]func()),
	}

	for _, name := range []types.ChannelName{types.ChannelMeeting, types.ChannelCoordination} {
		url, err := api.ChannelURL(opts.BaseURL, name, sess.MeetingID)
		if err != nil {
			return nil, err
		}
		ch := newChannel(name, url, opts.Dialer, util.NewBackoff(opts.BaseDelay, opts.MaxAttempts), opts.ConnectTimeout, m)
		ch.onOpen = func() { m.runHooks(name) }
		m.channels[name] = ch
	}

	// The meeting channel announces this participant every time it opens.
	m.OnOpen(types.ChannelMeeting, m.announce)

	return m, nil
}

// OnOpen registers fn to run each time ch transitions to Open. Meeting hooks
// run before Connect returns. Register hooks before calling Connect.
func (m *Manager) OnOpen(ch types.ChannelName, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[ch] = append(m.hooks[ch], fn)
}

func (m *Manager) runHooks(ch types.ChannelName) {
	m.mu.RLock()
	hooks := m.hooks[ch]
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

func (m *Manager) announce() {
	err := m.Send(types.ChannelMeeting, types.ParticipantJoined{
		Type:      types.MsgParticipantJoined,
		SessionID: m.session.ID,
		UserAgent: m.session.UserAgent,
	})
	if err != nil {
		slog.Warn("failed to announce participant", "error", err)
	}
}

// Connect dials the meeting channel and returns once it is Open and the
// participant announcement was sent. The coordination channel is dialed in
// the background under its own connect timeout; its failure does not fail
// Connect and it keeps retrying on its own. Channels whose reconnect budget
// was exhausted get a fresh budget.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		return ErrClosed
	default:
	}
	m.dials.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.dials.Done()
		ctx, cancel := context.WithTimeout(m.bgCtx, m.connectTimeout)
		defer cancel()
		if err := m.connectChannel(ctx, types.ChannelCoordination); err != nil && !errors.Is(err, ErrClosed) {
			slog.Warn("coordination channel not open yet", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	return m.connectChannel(ctx, types.ChannelMeeting)
}

func (m *Manager) connectChannel(ctx context.Context, name types.ChannelName) error {
	err := m.channels[name].open(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrClosed):
		return err
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return &ConnectError{Kind: ErrTimeout, Channel: name, Err: err}
	default:
		return &ConnectError{Kind: ErrRefused, Channel: name, Err: err}
	}
}

// Reconnect drops and re-dials one channel with a fresh reconnect budget.
func (m *Manager) Reconnect(ctx context.Context, name types.ChannelName) error {
	ch, ok := m.channels[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	ch.close(false)
	ch.resetBudget()
	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	return m.connectChannel(ctx, name)
}

// Send encodes v as JSON and writes it to ch. If ch is not Open the message
// is dropped and ErrNotOpen returned; nothing is queued.
func (m *Manager) Send(ch types.ChannelName, v any) error {
	c, ok := m.channels[ch]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return util.WrapError("encode message", err)
	}
	if err := c.send(data); err != nil {
		if errors.Is(err, ErrNotOpen) {
			slog.Warn("message dropped: channel not open", "channel", ch)
		}
		return err
	}
	return nil
}

// Handle registers h for inbound messages whose type tag equals msgType.
func (m *Manager) Handle(msgType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[msgType] = h
}

// Dispatch routes one inbound message by its type tag. Malformed frames and
// unknown types are logged and ignored.
func (m *Manager) Dispatch(msg Message) {
	var env types.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		slog.Warn("ignoring malformed message", "channel", msg.Channel, "error", err)
		return
	}

	m.mu.RLock()
	h, ok := m.handlers[env.Type]
	m.mu.RUnlock()
	if !ok {
		slog.Warn("ignoring unknown message type", "channel", msg.Channel, "type", env.Type)
		return
	}

	slog.Debug("dispatching message", "channel", msg.Channel, "type", env.Type)
	h(msg.Channel, msg.Data)
}

// Inbound returns the stream of received frames in per-channel transport order.
func (m *Manager) Inbound() <-chan Message {
	return m.inbound
}

// Changed signals that at least one channel changed state since the last
// receive. Consumers read States for the current view.
func (m *Manager) Changed() <-chan struct{} {
	return m.changed
}

// State returns the current state of one channel.
func (m *Manager) State(ch types.ChannelName) types.ChannelState {
	if c, ok := m.channels[ch]; ok {
		return c.State()
	}
	return types.ChannelState{Channel: ch, Status: types.StatusDisconnected}
}

// States returns the current state of both channels, meeting first.
func (m *Manager) States() []types.ChannelState {
	return []types.ChannelState{
		m.channels[types.ChannelMeeting].State(),
		m.channels[types.ChannelCoordination].State(),
	}
}

// Close closes both channels without reconnecting. It is idempotent.
// Frames still in flight are discarded.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		close(m.done)
		m.mu.Unlock()
		m.bgCancel()

		var wg sync.WaitGroup
		for _, ch := range m.channels {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ch.close(true)
			}()
		}
		wg.Wait()
		m.dials.Wait()
		slog.Info("connection manager closed")
	})
	return nil
}

func (m *Manager) deliver(msg Message) {
	select {
	case m.inbound <- msg:
	case <-m.done:
	}
}

func (m *Manager) stateChanged(st types.ChannelState) {
	slog.Debug("channel state", "channel", st.Channel, "status", st.Status,
		"generation", st.Generation, "attempts", st.ReconnectAttempts, "exhausted", st.Exhausted)
	select {
	case m.changed <- struct{}{}:
	default:
	}
}
