package session

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/connection"
	"github.com/huddlehq/huddle-recorder/internal/coordinator"
	"github.com/huddlehq/huddle-recorder/internal/eventlog"
	"github.com/huddlehq/huddle-recorder/internal/metrics"
	"github.com/huddlehq/huddle-recorder/internal/notify"
	"github.com/huddlehq/huddle-recorder/internal/quality"
	"github.com/huddlehq/huddle-recorder/internal/types"
)

// Controller runs one session.
type Controller struct {
	opts     Options
	conns    Connections
	pipeline Pipeline
	window   *quality.Window
	analyzer *quality.Analyzer
	coord    *coordinator.Coordinator
	view     *coordinator.ParticipantView
	notifier *notify.Notifier
	journal  *eventlog.Logger

	commands chan command
	quality  chan types.QualityMetrics
	feed     *feed

	// Loop-owned.
	ctx        context.Context
	lastStates map[types.ChannelName]types.ChannelState
	everOpen   map[types.ChannelName]bool

	startedOnce sync.Once
	done        chan struct{}
}

// New wires a controller. Call Run to start it.
func New(opts Options, deps Deps) *Controller {
	opts.QualityInterval = cmp.Or(opts.QualityInterval, types.QualityInterval)
	opts.MaxAttempts = cmp.Or(opts.MaxAttempts, types.MaxReconnectAttempts)

	c := &Controller{
		opts:       opts,
		conns:      deps.Connections,
		pipeline:   deps.Pipeline,
		window:     deps.Window,
		view:       deps.Participants,
		notifier:   deps.Notifier,
		journal:    deps.Journal,
		commands:   make(chan command),
		quality:    make(chan types.QualityMetrics, 1),
		feed:       newFeed(),
		lastStates: make(map[types.ChannelName]types.ChannelState),
		everOpen:   make(map[types.ChannelName]bool),
		done:       make(chan struct{}),
	}
	if c.window == nil {
		c.window = quality.NewWindow()
	}
	if c.notifier == nil {
		c.notifier = notify.NewNotifier("", nil, opts.Session)
	}
	c.analyzer = quality.NewAnalyzer(c.window, opts.QualityInterval, c.onQuality)
	c.coord = coordinator.New(opts.Session.ID, capture{c}, coordinator.Policy{StopWhenPassive: opts.StopWhenPassive})

	c.registerHandlers()
	return c
}

// Session returns the session identity.
func (c *Controller) Session() types.Session {
	return c.opts.Session
}

// Role returns the current recorder role.
func (c *Controller) Role() types.Role {
	return c.coord.Role()
}

// Done is closed when Run has returned and cleanup finished.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) registerHandlers() {
	invalidate := func(types.ChannelName, []byte) {
		if c.view != nil {
			c.view.Invalidate()
		}
	}
	c.conns.Handle(types.MsgParticipantJoinedEvent, invalidate)
	c.conns.Handle(types.MsgAudioQualityEvent, invalidate)
	c.conns.Handle(types.MsgRecordingStatusEvent, invalidate)
	c.conns.Handle(types.MsgQualityUpdateEvent, c.onPeerQuality)
	c.conns.Handle(types.MsgCoordinationDecision, c.onDecision)

	// The server only elects on request.
	c.conns.OnOpen(types.ChannelCoordination, c.requestCoordination)
}

// Run connects and processes events until ctx is done, then cleans up:
// capture stops, both channels close, and queued uploads finish. The
// controller owns the journal and closes it.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	c.ctx = ctx

	slog.Info("joining meeting", "meeting_id", c.opts.Session.MeetingID, "session_id", c.opts.Session.ID)
	if err := c.conns.Connect(ctx); err != nil {
		// Channels keep retrying on their own; the session stays up.
		slog.Error("meeting connection not established", "error", err)
		ev := types.NewEvent(types.EventConnectionLost, err.Error())
		ev.Channel = types.ChannelMeeting
		c.emit(ev)
	}
	c.handleStates()

	for {
		select {
		case <-ctx.Done():
			return c.cleanup()

		case msg := <-c.conns.Inbound():
			metrics.MessageReceived(msg.Channel)
			c.conns.Dispatch(msg)

		case <-c.conns.Changed():
			c.handleStates()

		case m := <-c.quality:
			c.handleQuality(m)

		case ev := <-c.pipeline.Events():
			c.handlePipelineEvent(ev)

		case <-c.viewUpdated():
			ev := types.NewEvent(types.EventParticipantsUpdated, "")
			ev.Data = c.view.Participants()
			c.emit(ev)

		case cmd := <-c.commands:
			c.handleCommand(ctx, cmd)
		}
	}
}

func (c *Controller) viewUpdated() <-chan struct{} {
	if c.view == nil {
		return nil
	}
	return c.view.Updated()
}

func (c *Controller) cleanup() error {
	slog.Info("leaving meeting", "meeting_id", c.opts.Session.MeetingID)

	var errs []error
	if c.pipeline.Running() {
		if err := c.stopRecording(); err != nil {
			errs = append(errs, err)
		}
	}
	c.analyzer.Stop()
	if err := c.conns.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.pipeline.Close(); err != nil {
		errs = append(errs, err)
	}
	c.notifier.Wait()
	if err := c.journal.Close(); err != nil {
		errs = append(errs, err)
	}
	c.feed.close()
	return errors.Join(errs...)
}

// send transmits v, counting messages dropped on a channel that is not open.
func (c *Controller) send(ch types.ChannelName, v any) {
	if err := c.conns.Send(ch, v); err != nil {
		metrics.MessageDropped(ch)
		if !errors.Is(err, connection.ErrNotOpen) {
			slog.Warn("failed to send message", "channel", ch, "error", err)
		}
	}
}

func (c *Controller) requestCoordination() {
	c.send(types.ChannelCoordination, types.RequestCoordination{
		Type:      types.MsgRequestCoordination,
		SessionID: c.opts.Session.ID,
	})
}

// sendRecordingStatus reports capture state on both channels: the meeting
// channel feeds the participant list, the coordination channel the elector.
func (c *Controller) sendRecordingStatus(recording bool) {
	msg := types.RecordingStatus{
		Type:        types.MsgRecordingStatus,
		SessionID:   c.opts.Session.ID,
		IsRecording: recording,
	}
	c.send(types.ChannelMeeting, msg)
	c.send(types.ChannelCoordination, msg)
}

// onQuality is the analyzer sink. Only the latest snapshot is kept when the
// loop is busy.
func (c *Controller) onQuality(m types.QualityMetrics) {
	select {
	case c.quality <- m:
	default:
		select {
		case <-c.quality:
		default:
		}
		select {
		case c.quality <- m:
		default:
		}
	}
}

func (c *Controller) handleQuality(m types.QualityMetrics) {
	metrics.ObserveQuality(m)
	c.send(types.ChannelCoordination, types.QualityUpdate{
		Type:           types.MsgQualityUpdate,
		SessionID:      c.opts.Session.ID,
		QualityMetrics: m,
	})
	ev := types.NewEvent(types.EventQuality, "")
	ev.Data = m
	c.emit(ev)
}

func (c *Controller) onPeerQuality(ch types.ChannelName, data []byte) {
	var msg types.QualityUpdateEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("ignoring malformed quality update", "channel", ch, "error", err)
		return
	}
	if msg.SessionID == c.opts.Session.ID {
		return
	}
	ev := types.NewEvent(types.EventPeerQuality, msg.SessionID)
	ev.Channel = ch
	ev.Data = msg
	c.emit(ev)
}

func (c *Controller) onDecision(ch types.ChannelName, data []byte) {
	change, err := c.coord.HandleMessage(c.ctx, data)
	switch {
	case errors.Is(err, coordinator.ErrNoDecision):
		c.logJournal(c.journal.Log(&eventlog.Event{Type: eventlog.DecisionIgnored, Message: "no decision"}))
		return
	case err != nil && change.To == "":
		slog.Warn("ignoring malformed coordination decision", "channel", ch, "error", err)
		return
	}
	// A capture error was already surfaced by startRecording.

	if change.Changed() {
		ev := types.NewEvent(types.EventRoleChanged, string(change.From)+" -> "+string(change.To))
		ev.Role = change.To
		ev.Data = map[string]any{"from": change.From, "to": change.To, "decision_id": change.DecisionID}
		c.emit(ev)
		c.logJournal(c.journal.LogRole(string(change.From), string(change.To), change.DecisionID))
	}
}

// handleStates diffs channel states against the last observed ones.
func (c *Controller) handleStates() {
	for _, st := range c.conns.States() {
		metrics.ObserveChannel(st)
		prev, seen := c.lastStates[st.Channel]
		c.lastStates[st.Channel] = st
		if seen && prev.Status == types.StatusOpen && st.Status == types.StatusOpen && prev.Generation != st.Generation {
			// A drop and the reopen after it arrived as one change signal.
			lost := st
			lost.Status = types.StatusDisconnected
			lost.LastCloseReason = "connection dropped and reopened"
			c.channelTransition(prev, lost)
			c.channelTransition(lost, st)
			continue
		}
		if seen && prev.Status == st.Status && prev.Exhausted == st.Exhausted {
			continue
		}
		c.channelTransition(prev, st)
	}
}

func (c *Controller) channelTransition(prev, st types.ChannelState) {
	wasOpen := prev.Status == types.StatusOpen
	isOpen := st.Status == types.StatusOpen

	switch {
	case isOpen && !wasOpen:
		restored := c.everOpen[st.Channel]
		c.everOpen[st.Channel] = true
		c.logJournal(c.journal.LogChannel(eventlog.ChannelOpen, string(st.Channel), "", 0, 0))
		c.channelOpened(st.Channel, restored)

	case st.Exhausted && !prev.Exhausted:
		c.logJournal(c.journal.LogChannel(eventlog.ChannelExhausted, string(st.Channel), st.LastCloseReason,
			st.ReconnectAttempts, c.opts.MaxAttempts))
		c.channelExhausted(st)

	case wasOpen && !isOpen && st.Status != types.StatusClosing:
		c.logJournal(c.journal.LogChannel(eventlog.ChannelLost, string(st.Channel), st.LastCloseReason,
			st.ReconnectAttempts, c.opts.MaxAttempts))
		ev := types.NewEvent(types.EventConnectionLost, st.LastCloseReason)
		ev.Channel = st.Channel
		c.emit(ev)
	}
}

func (c *Controller) channelOpened(ch types.ChannelName, restored bool) {
	switch ch {
	case types.ChannelMeeting:
		if c.notifier.Clear(notify.AlertMeetingLost) || restored {
			ev := types.NewEvent(types.EventConnectionRestored, "")
			ev.Channel = ch
			c.emit(ev)
		}
		if c.view != nil {
			c.view.Invalidate()
		}
		if c.opts.AutoStart {
			c.startedOnce.Do(func() {
				if !c.pipeline.Running() {
					_ = c.startRecording(c.ctx) //nolint:errcheck // Surfaced as an event
				}
			})
		}
	case types.ChannelCoordination:
		c.notifier.Clear(notify.AlertCoordinationUnavailable)
		if c.coord.SetAvailable(true) || restored {
			ev := types.NewEvent(types.EventConnectionRestored, "")
			ev.Channel = ch
			ev.Role = c.coord.Role()
			c.emit(ev)
		}
	}
}

func (c *Controller) channelExhausted(st types.ChannelState) {
	switch st.Channel {
	case types.ChannelMeeting:
		slog.Error("meeting channel lost, leaving recording", "attempts", st.ReconnectAttempts)
		ev := types.NewEvent(types.EventConnectionLost, "reconnect attempts exhausted")
		ev.Channel = st.Channel
		c.emit(ev)
		c.notifier.Raise(notify.AlertMeetingLost, st.Channel, st.ReconnectAttempts, st.LastCloseReason)
		if c.pipeline.Running() {
			if err := c.stopRecording(); err != nil {
				slog.Warn("failed to stop capture", "error", err)
			}
		}
	case types.ChannelCoordination:
		c.coord.SetAvailable(false)
		ev := types.NewEvent(types.EventCoordinationUnavailable, "reconnect attempts exhausted")
		ev.Channel = st.Channel
		ev.Role = c.coord.Role()
		c.emit(ev)
		c.notifier.Raise(notify.AlertCoordinationUnavailable, st.Channel, st.ReconnectAttempts, st.LastCloseReason)
	}
}

// Status returns the current client status.
func (c *Controller) Status() types.StatusResponse {
	resp := types.StatusResponse{
		Type:                  "status",
		Session:               c.opts.Session,
		Channels:              c.conns.States(),
		Role:                  c.coord.Role(),
		CoordinationAvailable: c.coord.Available(),
		Recording:             c.pipeline.Info(),
		Quality:               c.analyzer.Latest(),
		Participants:          []types.Participant{},
		Version:               c.opts.Version,
	}
	if c.view != nil {
		resp.Participants = c.view.Participants()
	}
	return resp
}

func (c *Controller) logJournal(err error) {
	if err != nil {
		slog.Warn("failed to write event journal", "error", err)
	}
}

// awaitTimeout bounds how long Do waits for the loop.
const awaitTimeout = 30 * time.Second
