// Package session wires one meeting participation together and runs its
// scheduler loop. The loop is the only owner of session state: inbound
// channel messages, channel state changes, quality snapshots, pipeline events
// and UI commands are all handled on it.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/huddlehq/huddle-recorder/internal/connection"
	"github.com/huddlehq/huddle-recorder/internal/coordinator"
	"github.com/huddlehq/huddle-recorder/internal/eventlog"
	"github.com/huddlehq/huddle-recorder/internal/notify"
	"github.com/huddlehq/huddle-recorder/internal/quality"
	"github.com/huddlehq/huddle-recorder/internal/recording"
	"github.com/huddlehq/huddle-recorder/internal/types"
)

// NewSession returns a session with a freshly generated id.
func NewSession(meetingID, userAgent string) types.Session {
	return types.Session{
		ID:        uuid.NewString(),
		MeetingID: meetingID,
		UserAgent: userAgent,
	}
}

// Connections is the connection manager as used by the controller.
// *connection.Manager satisfies it.
type Connections interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context, ch types.ChannelName) error
	Send(ch types.ChannelName, v any) error
	Handle(msgType string, h connection.Handler)
	OnOpen(ch types.ChannelName, fn func())
	Dispatch(msg connection.Message)
	Inbound() <-chan connection.Message
	Changed() <-chan struct{}
	States() []types.ChannelState
	Close() error
}

// Pipeline is the capture pipeline as used by the controller.
// *recording.Pipeline satisfies it.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop() error
	Close() error
	Running() bool
	SetRole(role types.Role)
	Events() <-chan recording.Event
	Info() types.RecordingInfo
}

// Deps are the collaborators of a Controller. Journal and Notifier may be nil.
type Deps struct {
	Connections  Connections
	Pipeline     Pipeline
	Window       *quality.Window
	Participants *coordinator.ParticipantView
	Notifier     *notify.Notifier
	Journal      *eventlog.Logger
}

// Options configures a Controller.
type Options struct {
	Session         types.Session
	QualityInterval time.Duration
	AutoStart       bool
	StopWhenPassive bool
	MaxAttempts     int
	Version         string
}
