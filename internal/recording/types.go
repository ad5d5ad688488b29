// Package recording captures audio into fixed-length segments and uploads
// each segment at most once.
package recording

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/api"
	"github.com/huddlehq/huddle-recorder/internal/types"
)

// Sentinel errors for recording operations.
var (
	// ErrAlreadyRecording is returned when Start is called while capture is running.
	ErrAlreadyRecording = errors.New("already recording")

	// ErrPipelineClosed is returned after Close.
	ErrPipelineClosed = errors.New("recording pipeline closed")
)

// State tracks the capture lifecycle.
type State string

const (
	// StateIdle indicates no active capture.
	StateIdle State = "idle"
	// StateStarting indicates the input device is being acquired.
	StateStarting State = "starting"
	// StateRecording indicates capture is in progress.
	StateRecording State = "recording"
	// StateStopping indicates the final segment is being flushed.
	StateStopping State = "stopping"
)

// Uploader transmits one segment. *api.Client satisfies it.
type Uploader interface {
	UploadSegment(ctx context.Context, seg *api.Segment, body io.Reader) (*types.UploadAck, error)
}

// Archiver mirrors an uploaded segment and returns its storage key.
type Archiver interface {
	Archive(ctx context.Context, seg *api.Segment) (string, error)
}

// EventKind identifies a pipeline event.
type EventKind string

// Pipeline event kinds.
const (
	// EventSegmentUploaded reports a segment the server accepted.
	EventSegmentUploaded EventKind = "segment_uploaded"
	// EventSegmentDropped reports a segment discarded without upload.
	EventSegmentDropped EventKind = "segment_dropped"
	// EventCaptureEnded reports capture that stopped without a Stop call.
	EventCaptureEnded EventKind = "capture_ended"
)

// Event is emitted by the pipeline for the session loop.
type Event struct {
	Kind       EventKind
	Segment    api.Segment
	Ack        *types.UploadAck
	ArchiveKey string
	Err        error
}

// Options configures a Pipeline.
type Options struct {
	MeetingID       string
	SessionID       string
	SegmentDuration time.Duration
	QueueSize       int
	TempDir         string
	UploadTimeout   time.Duration
	// Tap receives every captured PCM chunk. The slice is only valid during the call.
	Tap func(pcm []byte)
}

// deviceNamer is implemented by sources that know their device identifier.
type deviceNamer interface {
	Device() string
}
