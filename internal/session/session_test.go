package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/api"
	"github.com/huddlehq/huddle-recorder/internal/audio"
	"github.com/huddlehq/huddle-recorder/internal/connection"
	"github.com/huddlehq/huddle-recorder/internal/eventlog"
	"github.com/huddlehq/huddle-recorder/internal/quality"
	"github.com/huddlehq/huddle-recorder/internal/recording"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type sentMsg struct {
	channel types.ChannelName
	msg     any
}

// fakeConns stands in for the connection manager. Tests drive channel state
// with set and inbound frames with push.
type fakeConns struct {
	mu         sync.Mutex
	handlers   map[string]connection.Handler
	hooks      map[types.ChannelName][]func()
	states     map[types.ChannelName]types.ChannelState
	sent       []sentMsg
	reconnects []types.ChannelName
	connectErr error
	closed     bool

	inbound chan connection.Message
	changed chan struct{}
}

func newFakeConns() *fakeConns {
	return &fakeConns{
		handlers: make(map[string]connection.Handler),
		hooks:    make(map[types.ChannelName][]func()),
		states: map[types.ChannelName]types.ChannelState{
			types.ChannelMeeting:      {Channel: types.ChannelMeeting, Status: types.StatusDisconnected},
			types.ChannelCoordination: {Channel: types.ChannelCoordination, Status: types.StatusDisconnected},
		},
		inbound: make(chan connection.Message, 16),
		changed: make(chan struct{}, 1),
	}
}

func (f *fakeConns) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.set(types.ChannelState{Channel: types.ChannelMeeting, Status: types.StatusOpen})
	f.set(types.ChannelState{Channel: types.ChannelCoordination, Status: types.StatusOpen})
	return nil
}

func (f *fakeConns) Reconnect(_ context.Context, ch types.ChannelName) error {
	f.mu.Lock()
	f.reconnects = append(f.reconnects, ch)
	f.mu.Unlock()
	f.set(types.ChannelState{Channel: ch, Status: types.StatusOpen})
	return nil
}

// set replaces a channel state, runs open hooks and signals the change.
func (f *fakeConns) set(st types.ChannelState) {
	f.mu.Lock()
	prev := f.states[st.Channel]
	f.states[st.Channel] = st
	var hooks []func()
	if st.Status == types.StatusOpen && prev.Status != types.StatusOpen {
		hooks = append(hooks, f.hooks[st.Channel]...)
	}
	f.mu.Unlock()

	for _, h := range hooks {
		h()
	}
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

func (f *fakeConns) Send(ch types.ChannelName, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[ch]
	if !ok {
		return connection.ErrUnknownChannel
	}
	if st.Status != types.StatusOpen {
		return connection.ErrNotOpen
	}
	f.sent = append(f.sent, sentMsg{channel: ch, msg: v})
	return nil
}

func (f *fakeConns) Handle(msgType string, h connection.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[msgType] = h
}

func (f *fakeConns) OnOpen(ch types.ChannelName, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[ch] = append(f.hooks[ch], fn)
}

func (f *fakeConns) Dispatch(msg connection.Message) {
	var env types.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return
	}
	f.mu.Lock()
	h, ok := f.handlers[env.Type]
	f.mu.Unlock()
	if ok {
		h(msg.Channel, msg.Data)
	}
}

func (f *fakeConns) Inbound() <-chan connection.Message { return f.inbound }
func (f *fakeConns) Changed() <-chan struct{}           { return f.changed }

func (f *fakeConns) States() []types.ChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []types.ChannelState{f.states[types.ChannelMeeting], f.states[types.ChannelCoordination]}
}

func (f *fakeConns) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConns) push(ch types.ChannelName, frame string) {
	f.inbound <- connection.Message{Channel: ch, Data: []byte(frame)}
}

func (f *fakeConns) recordingStatus() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, s := range f.sent {
		if _, ok := s.msg.(types.RecordingStatus); ok {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeConns) countType(msgType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		data, err := json.Marshal(s.msg)
		if err != nil {
			continue
		}
		var env types.Envelope
		if json.Unmarshal(data, &env) == nil && env.Type == msgType {
			n++
		}
	}
	return n
}

// pipeOpener opens sources that never produce data until the test writes.
type pipeOpener struct {
	mu      sync.Mutex
	err     error
	writers []*io.PipeWriter
}

type pipeSource struct{ *io.PipeReader }

func (pipeSource) Device() string { return "test-mic" }

func (o *pipeOpener) Open(context.Context) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	r, w := io.Pipe()
	o.writers = append(o.writers, w)
	return pipeSource{r}, nil
}

func (o *pipeOpener) last() *io.PipeWriter {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writers[len(o.writers)-1]
}

type okUploader struct{}

func (okUploader) UploadSegment(_ context.Context, _ *api.Segment, body io.Reader) (*types.UploadAck, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return nil, err
	}
	return &types.UploadAck{RecordingID: "7"}, nil
}

type harness struct {
	ctrl    *Controller
	conns   *fakeConns
	opener  *pipeOpener
	pipe    *recording.Pipeline
	events  <-chan types.Event
	journal string
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{conns: newFakeConns(), opener: &pipeOpener{}}
	opts.Session = types.Session{ID: "S1", MeetingID: "m-1", UserAgent: "test"}
	opts.QualityInterval = 20 * time.Millisecond

	window := quality.NewWindow()
	h.pipe = recording.NewPipeline(recording.Options{
		MeetingID:       "m-1",
		SessionID:       "S1",
		SegmentDuration: 100 * time.Millisecond,
		TempDir:         t.TempDir(),
		UploadTimeout:   time.Second,
		Tap:             window.Write,
	}, h.opener, okUploader{}, nil)
	t.Cleanup(func() { _ = h.pipe.Close() })

	h.journal = t.TempDir() + "/events.jsonl"
	journal, err := eventlog.NewLogger(h.journal, "S1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	h.ctrl = New(opts, Deps{
		Connections: h.conns,
		Pipeline:    h.pipe,
		Window:      window,
		Journal:     journal,
	})
	events, unsubscribe := h.ctrl.Subscribe()
	h.events = events
	t.Cleanup(unsubscribe)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.ctrl.Done()
	})
}

// waitEvent returns the next event of type want, skipping others.
func (h *harness) waitEvent(t *testing.T, want types.EventType) types.Event {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case ev, ok := <-h.events:
			require.True(t, ok, "feed closed while waiting for %s", want)
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func decision(primary string, backups ...string) string {
	d := map[string]any{
		"type": types.MsgCoordinationDecision,
		"decision": types.Decision{
			PrimaryRecorder: primary,
			BackupRecorders: backups,
			DecisionID:      1,
		},
	}
	data, _ := json.Marshal(d)
	return string(data)
}

func TestPrimaryDecisionStartsRecording(t *testing.T) {
	h := newHarness(t, Options{})
	h.run(t)

	h.conns.push(types.ChannelCoordination, decision("S1", "S2"))

	// Capture starts while the decision is applied, before the role event.
	started := h.waitEvent(t, types.EventRecordingStarted)
	assert.Equal(t, "test-mic", started.Message)
	assert.Equal(t, types.RolePrimary, started.Role)
	ev := h.waitEvent(t, types.EventRoleChanged)
	assert.Equal(t, types.RolePrimary, ev.Role)

	assert.True(t, h.pipe.Running())
	assert.Equal(t, types.RolePrimary, h.pipe.Role())
	assert.Equal(t, types.RolePrimary, h.ctrl.Role())

	status := h.conns.recordingStatus()
	require.Len(t, status, 2)
	assert.ElementsMatch(t,
		[]types.ChannelName{types.ChannelMeeting, types.ChannelCoordination},
		[]types.ChannelName{status[0].channel, status[1].channel})
	assert.True(t, status[0].msg.(types.RecordingStatus).IsRecording)

	// One request on coordination open, one after capture started.
	assert.Equal(t, 2, h.conns.countType(types.MsgRequestCoordination))
}

func TestPassiveDecisionDoesNotCapture(t *testing.T) {
	h := newHarness(t, Options{})
	h.run(t)

	h.conns.push(types.ChannelCoordination, decision("S9"))

	ev := h.waitEvent(t, types.EventRoleChanged)
	assert.Equal(t, types.RolePassive, ev.Role)
	assert.False(t, h.pipe.Running())
}

func TestNullDecisionIsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	h.run(t)

	h.conns.push(types.ChannelCoordination, decision("S1"))
	h.waitEvent(t, types.EventRecordingStarted)

	h.conns.push(types.ChannelCoordination, `{"type":"coordination_decision_message","decision":null}`)
	h.conns.push(types.ChannelCoordination, `{"type":"coordination_decision_message","decision":`)

	require.Eventually(t, func() bool {
		events, _, err := eventlog.ReadLast(h.journal, 10, 0, eventlog.FilterRole)
		if err != nil {
			return false
		}
		for _, ev := range events {
			if ev.Type == eventlog.DecisionIgnored {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, types.RolePrimary, h.ctrl.Role())
	assert.True(t, h.pipe.Running())
}

func TestPermissionDeniedKeepsRole(t *testing.T) {
	h := newHarness(t, Options{})
	h.opener.err = &audio.CaptureError{Err: audio.ErrPermissionDenied, Device: "default"}
	h.run(t)

	h.conns.push(types.ChannelCoordination, decision("S1"))

	ev := h.waitEvent(t, types.EventPermissionDenied)
	assert.Contains(t, ev.Message, "permission denied")
	assert.Equal(t, types.RolePrimary, h.ctrl.Role())
	assert.False(t, h.pipe.Running())
	assert.Empty(t, h.conns.recordingStatus())
}

func TestCaptureEndedEmitsDeviceUnavailable(t *testing.T) {
	h := newHarness(t, Options{})
	h.run(t)

	require.NoError(t, h.ctrl.Do(context.Background(), Command{Type: CmdStartRecording}))
	require.True(t, h.pipe.Running())

	require.NoError(t, h.opener.last().Close())

	h.waitEvent(t, types.EventDeviceUnavailable)
	assert.False(t, h.pipe.Running())
	status := h.conns.recordingStatus()
	require.NotEmpty(t, status)
	assert.False(t, status[len(status)-1].msg.(types.RecordingStatus).IsRecording)
}

func TestCoordinationExhaustedKeepsRole(t *testing.T) {
	h := newHarness(t, Options{})
	h.run(t)

	h.conns.push(types.ChannelCoordination, decision("S1"))
	h.waitEvent(t, types.EventRecordingStarted)

	h.conns.set(types.ChannelState{
		Channel:           types.ChannelCoordination,
		Status:            types.StatusDisconnected,
		ReconnectAttempts: 5,
		Exhausted:         true,
	})

	ev := h.waitEvent(t, types.EventCoordinationUnavailable)
	assert.Equal(t, types.RolePrimary, ev.Role)
	assert.True(t, h.pipe.Running())
	assert.False(t, h.ctrl.Status().CoordinationAvailable)

	require.NoError(t, h.ctrl.Do(context.Background(), Command{Type: CmdReconnect, Channel: types.ChannelCoordination}))
	restored := h.waitEvent(t, types.EventConnectionRestored)
	assert.Equal(t, types.ChannelCoordination, restored.Channel)
	assert.True(t, h.ctrl.Status().CoordinationAvailable)
}

func TestMeetingExhaustedStopsRecording(t *testing.T) {
	h := newHarness(t, Options{})
	h.run(t)

	require.NoError(t, h.ctrl.Do(context.Background(), Command{Type: CmdStartRecording}))

	h.conns.set(types.ChannelState{Channel: types.ChannelMeeting, Status: types.StatusDisconnected, LastCloseReason: "abnormal closure"})
	lost := h.waitEvent(t, types.EventConnectionLost)
	assert.Equal(t, "abnormal closure", lost.Message)
	assert.True(t, h.pipe.Running(), "a transient loss keeps capture running")

	h.conns.set(types.ChannelState{Channel: types.ChannelMeeting, Status: types.StatusDisconnected, ReconnectAttempts: 5, Exhausted: true})
	h.waitEvent(t, types.EventRecordingStopped)
	assert.False(t, h.pipe.Running())
}

func TestReopenBetweenSignalsIsReported(t *testing.T) {
	h := newHarness(t, Options{})
	h.run(t)
	require.NoError(t, h.ctrl.Do(context.Background(), Command{Type: CmdStartRecording}))

	h.conns.set(types.ChannelState{Channel: types.ChannelMeeting, Status: types.StatusOpen, Generation: 2})

	lost := h.waitEvent(t, types.EventConnectionLost)
	assert.Equal(t, types.ChannelMeeting, lost.Channel)
	restored := h.waitEvent(t, types.EventConnectionRestored)
	assert.Equal(t, types.ChannelMeeting, restored.Channel)
	assert.True(t, h.pipe.Running())

	require.Eventually(t, func() bool {
		events, _, err := eventlog.ReadLast(h.journal, 10, 0, eventlog.FilterChannel)
		if err != nil {
			return false
		}
		// Newest first: the reopen, then the loss before it.
		return len(events) >= 2 && events[0].Type == eventlog.ChannelOpen && events[1].Type == eventlog.ChannelLost
	}, waitFor, 5*time.Millisecond)
}

func TestAutoStartOnMeetingOpen(t *testing.T) {
	h := newHarness(t, Options{AutoStart: true})
	h.run(t)

	h.waitEvent(t, types.EventRecordingStarted)
	assert.True(t, h.pipe.Running())
}

func TestPeerQualitySkipsOwnSession(t *testing.T) {
	h := newHarness(t, Options{})
	h.run(t)

	h.conns.push(types.ChannelCoordination, `{"type":"quality_update_message","session_id":"S1","quality_metrics":{"volume_level":0.1}}`)
	h.conns.push(types.ChannelCoordination, `{"type":"quality_update_message","session_id":"S2","quality_metrics":{"volume_level":0.4}}`)

	ev := h.waitEvent(t, types.EventPeerQuality)
	assert.Equal(t, "S2", ev.Message)
	msg, ok := ev.Data.(types.QualityUpdateEvent)
	require.True(t, ok)
	assert.InDelta(t, 0.4, msg.QualityMetrics.VolumeLevel, 1e-9)
}

func TestQualitySnapshotsWhileRecording(t *testing.T) {
	h := newHarness(t, Options{})
	h.run(t)

	require.NoError(t, h.ctrl.Do(context.Background(), Command{Type: CmdStartRecording}))
	_, err := h.opener.last().Write(make([]byte, types.BytesForDuration(200*time.Millisecond)))
	require.NoError(t, err)

	ev := h.waitEvent(t, types.EventQuality)
	_, ok := ev.Data.(types.QualityMetrics)
	assert.True(t, ok)
	require.Eventually(t, func() bool {
		return h.conns.countType(types.MsgQualityUpdate) > 0
	}, waitFor, 5*time.Millisecond)

	up := h.waitEvent(t, types.EventSegmentUploaded)
	assert.Equal(t, types.RoleUnassigned, up.Role)
}

func TestCommands(t *testing.T) {
	h := newHarness(t, Options{})
	h.run(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Do(ctx, Command{Type: CmdStartRecording}))
	assert.ErrorIs(t, h.ctrl.Do(ctx, Command{Type: CmdStartRecording}), recording.ErrAlreadyRecording)
	require.NoError(t, h.ctrl.Do(ctx, Command{Type: CmdStopRecording}))
	require.NoError(t, h.ctrl.Do(ctx, Command{Type: CmdStopRecording}), "stop when idle")
	assert.False(t, h.pipe.Running())

	before := h.conns.countType(types.MsgRequestCoordination)
	require.NoError(t, h.ctrl.Do(ctx, Command{Type: CmdRequestCoordination}))
	assert.Equal(t, before+1, h.conns.countType(types.MsgRequestCoordination))

	require.NoError(t, h.ctrl.Do(ctx, Command{Type: CmdRefreshParticipants}))
	require.NoError(t, h.ctrl.Do(ctx, Command{Type: CmdReconnect, Channel: types.ChannelMeeting}))
	assert.Error(t, h.ctrl.Do(ctx, Command{Type: "bogus"}))
}

func TestRunCleansUp(t *testing.T) {
	h := newHarness(t, Options{})
	h.conns.connectErr = errors.New("connection refused")
	h.run(t)

	h.waitEvent(t, types.EventConnectionLost)
	h.cancel()

	select {
	case <-h.ctrl.Done():
	case <-time.After(waitFor):
		t.Fatal("controller did not stop")
	}
	assert.True(t, h.conns.closed)
	assert.ErrorIs(t, h.ctrl.Do(context.Background(), Command{Type: CmdStopRecording}), ErrStopped)

	_, open := <-h.events
	assert.False(t, open, "feed is closed")

	late, _ := h.ctrl.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, Options{Version: "1.2.3"})
	st := h.ctrl.Status()
	assert.Equal(t, "status", st.Type)
	assert.Equal(t, "S1", st.Session.ID)
	assert.Equal(t, types.RoleUnassigned, st.Role)
	assert.True(t, st.CoordinationAvailable)
	assert.Equal(t, string(recording.StateIdle), st.Recording.State)
	assert.Nil(t, st.Quality)
	assert.NotNil(t, st.Participants)
	assert.Equal(t, "1.2.3", st.Version)
}

func TestNewSessionGeneratesID(t *testing.T) {
	a := NewSession("m-1", "ua")
	b := NewSession("m-1", "ua")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "m-1", a.MeetingID)
}
