package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/recording"
	"github.com/huddlehq/huddle-recorder/internal/types"
)

// ErrStopped is returned by Do once Run has returned.
var ErrStopped = errors.New("session stopped")

// CommandType identifies a UI command.
type CommandType string

// UI commands.
const (
	CmdStartRecording      CommandType = "start_recording"
	CmdStopRecording       CommandType = "stop_recording"
	CmdRequestCoordination CommandType = "request_coordination"
	CmdRefreshParticipants CommandType = "refresh_participants"
	CmdReconnect           CommandType = "reconnect"
)

// Command is a request from the UI layer, executed on the session loop.
type Command struct {
	Type    CommandType
	Channel types.ChannelName // CmdReconnect only
}

type command struct {
	Command
	result chan error
}

// Do runs cmd on the session loop and waits for its result.
func (c *Controller) Do(ctx context.Context, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, awaitTimeout)
	defer cancel()

	req := command{Command: cmd, result: make(chan error, 1)}
	select {
	case c.commands <- req:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) handleCommand(ctx context.Context, cmd command) {
	slog.Debug("command", "type", cmd.Type, "channel", cmd.Channel)

	var err error
	switch cmd.Type {
	case CmdStartRecording:
		if c.pipeline.Running() {
			err = recording.ErrAlreadyRecording
			break
		}
		err = c.startRecording(ctx)
	case CmdStopRecording:
		if !c.pipeline.Running() {
			break
		}
		err = c.stopRecording()
	case CmdRequestCoordination:
		err = c.conns.Send(types.ChannelCoordination, types.RequestCoordination{
			Type:      types.MsgRequestCoordination,
			SessionID: c.opts.Session.ID,
		})
	case CmdRefreshParticipants:
		if c.view == nil {
			break
		}
		// The fetch may take seconds; the loop must keep serving.
		go func() {
			_, err := c.view.Refresh(ctx)
			cmd.result <- err
		}()
		return
	case CmdReconnect:
		// Reconnect blocks on the handshake and reports through Changed,
		// which only this loop drains.
		go func() {
			cmd.result <- c.conns.Reconnect(ctx, cmd.Channel)
		}()
		return
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}
	cmd.result <- err
}

// subscriberBuffer is the per-subscriber event backlog. A subscriber that
// falls further behind misses events.
const subscriberBuffer = 64

type feed struct {
	mu     sync.Mutex
	subs   map[chan types.Event]struct{}
	closed bool
}

func newFeed() *feed {
	return &feed{subs: make(map[chan types.Event]struct{})}
}

// Subscribe returns a channel of UI events and a function that ends the
// subscription. The channel is closed when the session ends.
func (c *Controller) Subscribe() (<-chan types.Event, func()) {
	return c.feed.subscribe()
}

func (f *feed) subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, subscriberBuffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[ch]; ok {
				delete(f.subs, ch)
				close(ch)
			}
		})
	}
}

func (f *feed) publish(ev types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		close(ch)
	}
	clear(f.subs)
}

// emit publishes ev to UI subscribers.
func (c *Controller) emit(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	slog.Debug("event", "type", ev.Type, "channel", ev.Channel, "role", ev.Role)
	c.feed.publish(ev)
}
