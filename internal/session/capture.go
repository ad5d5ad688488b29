package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/huddlehq/huddle-recorder/internal/audio"
	"github.com/huddlehq/huddle-recorder/internal/eventlog"
	"github.com/huddlehq/huddle-recorder/internal/notify"
	"github.com/huddlehq/huddle-recorder/internal/recording"
	"github.com/huddlehq/huddle-recorder/internal/types"
)

// capture is the coordinator's view of the pipeline. Starting and stopping
// go through the controller so status messages and events follow capture.
type capture struct {
	c *Controller
}

func (r capture) Start(ctx context.Context) error { return r.c.startRecording(ctx) }
func (r capture) Stop() error                     { return r.c.stopRecording() }
func (r capture) Running() bool                   { return r.c.pipeline.Running() }
func (r capture) SetRole(role types.Role)         { r.c.pipeline.SetRole(role) }

// startRecording acquires the device. Failures are surfaced as a
// permission_denied or device_unavailable event and never retried here.
func (c *Controller) startRecording(ctx context.Context) error {
	if err := c.pipeline.Start(ctx); err != nil {
		if errors.Is(err, recording.ErrAlreadyRecording) {
			return err
		}
		c.captureFailed(err)
		return err
	}

	c.window.Reset()
	c.analyzer.Start()
	c.notifier.Clear(notify.AlertCaptureFailed)
	c.sendRecordingStatus(true)
	// A new recorder changes the elector's input.
	c.requestCoordination()

	info := c.pipeline.Info()
	ev := types.NewEvent(types.EventRecordingStarted, info.Device)
	ev.Role = c.coord.Role()
	c.emit(ev)
	c.logJournal(c.journal.LogRecording(eventlog.RecordingStarted, info.Device))
	return nil
}

// stopRecording releases the device and flushes the last partial segment.
func (c *Controller) stopRecording() error {
	c.analyzer.Stop()
	err := c.pipeline.Stop()
	c.window.Reset()
	c.sendRecordingStatus(false)

	ev := types.NewEvent(types.EventRecordingStopped, "")
	ev.Role = c.coord.Role()
	c.emit(ev)
	c.logJournal(c.journal.LogRecording(eventlog.RecordingStopped, ""))
	return err
}

func (c *Controller) captureFailed(err error) {
	evType := types.EventDeviceUnavailable
	if errors.Is(err, audio.ErrPermissionDenied) {
		evType = types.EventPermissionDenied
	}
	slog.Error("capture failed", "error", err)

	ev := types.NewEvent(evType, err.Error())
	ev.Role = c.coord.Role()
	c.emit(ev)
	c.logJournal(c.journal.LogRecording(eventlog.CaptureFailed, err.Error()))
	c.notifier.Raise(notify.AlertCaptureFailed, "", 0, err.Error())
}

func (c *Controller) handlePipelineEvent(ev recording.Event) {
	seg := ev.Segment
	details := &eventlog.SegmentDetails{
		Sequence:   seg.Sequence,
		Filename:   seg.Filename(),
		Role:       string(seg.Role),
		DurationMs: seg.Duration.Milliseconds(),
		Final:      seg.Final,
		ArchiveKey: ev.ArchiveKey,
	}

	switch ev.Kind {
	case recording.EventSegmentUploaded:
		if ev.Ack != nil {
			details.RecordingID = string(ev.Ack.RecordingID)
		}
		c.logJournal(c.journal.LogSegment(eventlog.SegmentUploaded, details))
		if ev.ArchiveKey != "" {
			c.logJournal(c.journal.LogSegment(eventlog.SegmentArchived, details))
		}
		out := types.NewEvent(types.EventSegmentUploaded, seg.Filename())
		out.Role = seg.Role
		out.Data = details
		c.emit(out)

	case recording.EventSegmentDropped:
		if ev.Err != nil {
			details.Error = ev.Err.Error()
		}
		c.logJournal(c.journal.LogSegment(eventlog.SegmentDropped, details))
		out := types.NewEvent(types.EventSegmentDropped, details.Error)
		out.Role = seg.Role
		out.Data = details
		c.emit(out)

	case recording.EventCaptureEnded:
		// The pipeline is already idle.
		c.analyzer.Stop()
		c.window.Reset()
		c.sendRecordingStatus(false)
		c.captureFailed(ev.Err)
	}
}
