package recording

import (
	"cmp"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/api"
	"github.com/huddlehq/huddle-recorder/internal/audio"
	"github.com/huddlehq/huddle-recorder/internal/metrics"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

const (
	// readChunk is the PCM read size; it also bounds tap latency.
	readChunk = 100 * time.Millisecond
	// eventBuffer absorbs pipeline events while the session loop is busy.
	eventBuffer = 64
)

// Pipeline owns the input device while recording. Captured PCM is cut into
// segments by sample count; each finished segment is written to a WAV file
// and handed to the upload worker, which owns it from then on.
type Pipeline struct {
	opts     Options
	opener   audio.Opener
	uploader Uploader
	archive  Archiver

	queue    chan *api.Segment
	events   chan Event
	uploadWg sync.WaitGroup

	mu        sync.RWMutex
	state     State
	role      types.Role
	run       *captureRun
	device    string
	startedAt time.Time
	sequence  int
	closed    bool
	stats     stats
}

type stats struct {
	cut           int
	uploaded      int
	dropped       int
	lastUploadErr string
}

// captureRun is one Start..Stop span. Its reader goroutine is the only writer
// of the segment buffer.
type captureRun struct {
	src       io.ReadCloser
	startedAt time.Time
	offset    int // PCM bytes consumed before the current segment
	done      chan struct{}
}

// NewPipeline returns an idle pipeline. archive may be nil.
func NewPipeline(opts Options, opener audio.Opener, uploader Uploader, archive Archiver) *Pipeline {
	opts.SegmentDuration = cmp.Or(opts.SegmentDuration, types.SegmentDuration)
	opts.QueueSize = cmp.Or(opts.QueueSize, 8)
	opts.TempDir = cmp.Or(opts.TempDir, os.TempDir())
	opts.UploadTimeout = cmp.Or(opts.UploadTimeout, types.UploadTimeout)

	p := &Pipeline{
		opts:     opts,
		opener:   opener,
		uploader: uploader,
		archive:  archive,
		queue:    make(chan *api.Segment, opts.QueueSize),
		events:   make(chan Event, eventBuffer),
		state:    StateIdle,
		role:     types.RoleUnassigned,
	}

	p.uploadWg.Add(1)
	go p.uploadWorker()
	return p
}

// Events returns pipeline events. Events are dropped when the buffer is full.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// SetRole sets the origin tag applied to segments cut from now on.
func (p *Pipeline) SetRole(role types.Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.role = role
}

// Role returns the current origin tag.
func (p *Pipeline) Role() types.Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

// State returns the capture state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Running reports whether capture is active.
func (p *Pipeline) Running() bool {
	return p.State() == StateRecording
}

// Info returns a status summary.
func (p *Pipeline) Info() types.RecordingInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := types.RecordingInfo{
		State:            string(p.state),
		Device:           p.device,
		SegmentsCut:      p.stats.cut,
		SegmentsUploaded: p.stats.uploaded,
		SegmentsDropped:  p.stats.dropped,
		LastUploadError:  p.stats.lastUploadErr,
	}
	if p.state == StateRecording {
		info.Uptime = time.Since(p.startedAt).Truncate(time.Second).String()
	}
	return info
}

// Start acquires the input device and begins segmenting. Device failures are
// returned as *audio.CaptureError and leave the pipeline idle.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadyRecording
	}
	p.state = StateStarting
	p.mu.Unlock()

	if err := os.MkdirAll(p.opts.TempDir, 0o755); err != nil {
		p.setIdle()
		return util.WrapError("create spool directory", err)
	}

	src, err := p.opener.Open(ctx)
	if err != nil {
		p.setIdle()
		slog.Error("capture start failed", "error", err)
		return err
	}

	run := &captureRun{
		src:       src,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	p.run = run
	p.state = StateRecording
	p.startedAt = run.startedAt
	p.device = ""
	if d, ok := src.(deviceNamer); ok {
		p.device = d.Device()
	}
	device := p.device
	p.mu.Unlock()

	metrics.SetRecording(true)
	slog.Info("recording started", "device", device, "segment", p.opts.SegmentDuration)

	go p.readLoop(run)
	return nil
}

func (p *Pipeline) setIdle() {
	p.mu.Lock()
	p.state = StateIdle
	p.mu.Unlock()
}

// Stop releases the device and flushes the partial segment as a final
// segment. Uploads already queued continue. It is safe to call when idle.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	run := p.run
	if run == nil {
		p.mu.Unlock()
		return nil
	}
	if p.state == StateStopping {
		p.mu.Unlock()
		<-run.done
		return nil
	}
	p.state = StateStopping
	p.mu.Unlock()

	err := run.src.Close()
	<-run.done

	p.mu.Lock()
	if p.run == run {
		p.run = nil
		p.state = StateIdle
	}
	p.mu.Unlock()

	metrics.SetRecording(false)
	slog.Info("recording stopped")
	return err
}

// Close stops capture, lets queued uploads finish, and stops the worker.
func (p *Pipeline) Close() error {
	err := p.Stop()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return err
	}
	p.closed = true
	p.mu.Unlock()

	close(p.queue)
	p.uploadWg.Wait()
	return err
}

// readLoop reads PCM until the source ends and cuts segments on sample
// boundaries, so segment length follows the media clock.
func (p *Pipeline) readLoop(run *captureRun) {
	defer close(run.done)

	segBytes := types.BytesForDuration(p.opts.SegmentDuration)
	chunk := make([]byte, types.BytesForDuration(readChunk))
	buf := make([]byte, 0, segBytes)

	var readErr error
	for {
		n, err := run.src.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			metrics.CaptureBytes(n)
			if p.opts.Tap != nil {
				p.opts.Tap(data)
			}
			for len(data) > 0 {
				take := min(segBytes-len(buf), len(data))
				buf = append(buf, data[:take]...)
				data = data[take:]
				if len(buf) == segBytes {
					p.cut(run, buf, false)
					buf = make([]byte, 0, segBytes)
				}
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}

	// An odd trailing byte cannot form a sample.
	buf = buf[:len(buf)-len(buf)%types.BytesPerSample]
	if len(buf) > 0 {
		p.cut(run, buf, true)
	}

	p.mu.Lock()
	unexpected := p.run == run && p.state == StateRecording
	if unexpected {
		p.run = nil
		p.state = StateIdle
	}
	p.mu.Unlock()

	if unexpected {
		_ = run.src.Close()
		metrics.SetRecording(false)
		if readErr == nil || errors.Is(readErr, io.EOF) {
			readErr = &audio.CaptureError{Err: audio.ErrDeviceUnavailable, Detail: "capture ended"}
		}
		slog.Error("capture ended unexpectedly", "error", readErr)
		p.emit(Event{Kind: EventCaptureEnded, Err: readErr})
	}
}

// cut hands one segment to the upload queue. A full queue drops the segment.
func (p *Pipeline) cut(run *captureRun, pcm []byte, final bool) {
	p.mu.Lock()
	p.sequence++
	seg := &api.Segment{
		MeetingID: p.opts.MeetingID,
		SessionID: p.opts.SessionID,
		Role:      p.role,
		Sequence:  p.sequence,
		StartedAt: run.startedAt.Add(types.DurationForBytes(run.offset)),
		Duration:  types.DurationForBytes(len(pcm)),
		Final:     final,
	}
	p.stats.cut++
	p.mu.Unlock()
	run.offset += len(pcm)
	metrics.SegmentCut()
	rmsDB, peakDB := audio.Level(pcm)
	metrics.ObserveSegmentLevel(rmsDB, peakDB)

	path, err := writeSegment(p.opts.TempDir, pcm)
	if err != nil {
		slog.Error("failed to write segment", "sequence", seg.Sequence, "error", err)
		p.drop(seg, metrics.DropEncodeFailed, err)
		return
	}
	seg.Path = path

	select {
	case p.queue <- seg:
		slog.Debug("segment queued", "sequence", seg.Sequence, "duration", seg.Duration, "final", final, "role", seg.Role,
			"rms_db", rmsDB, "peak_db", peakDB)
	default:
		slog.Warn("upload queue full, dropping segment", "sequence", seg.Sequence)
		removeSegment(seg)
		p.drop(seg, metrics.DropQueueFull, errors.New("upload queue full"))
	}
}

func (p *Pipeline) drop(seg *api.Segment, reason string, err error) {
	p.mu.Lock()
	p.stats.dropped++
	if reason == metrics.DropUploadFailed {
		p.stats.lastUploadErr = err.Error()
	}
	p.mu.Unlock()
	metrics.SegmentDropped(reason)
	p.emit(Event{Kind: EventSegmentDropped, Segment: *seg, Err: err})
}

func (p *Pipeline) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		slog.Debug("pipeline event dropped", "kind", ev.Kind)
	}
}

func removeSegment(seg *api.Segment) {
	if seg.Path == "" {
		return
	}
	if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove segment file", "path", seg.Path, "error", err)
	}
}
