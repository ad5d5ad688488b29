package recording

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/api"
	"github.com/huddlehq/huddle-recorder/internal/metrics"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

// uploadWorker drains the queue until Close. Each segment gets exactly one
// attempt; the file is removed afterwards whatever the outcome.
func (p *Pipeline) uploadWorker() {
	defer p.uploadWg.Done()

	for seg := range p.queue {
		p.uploadSegment(seg)
	}
}

func (p *Pipeline) uploadSegment(seg *api.Segment) {
	defer removeSegment(seg)

	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		p.opts.UploadTimeout,
		errors.New("segment upload timeout"),
	)
	defer cancel()

	file, err := os.Open(seg.Path)
	if err != nil {
		slog.Error("failed to open segment for upload", "sequence", seg.Sequence, "error", err)
		p.drop(seg, metrics.DropUploadFailed, err)
		return
	}
	defer util.SafeCloseFunc(file, "segment file")()

	start := time.Now()
	ack, err := p.uploader.UploadSegment(ctx, seg, file)
	if err != nil {
		slog.Error("segment upload failed, dropping", "sequence", seg.Sequence, "file", filepath.Base(seg.Path), "error", err)
		p.drop(seg, metrics.DropUploadFailed, err)
		return
	}

	p.mu.Lock()
	p.stats.uploaded++
	p.stats.lastUploadErr = ""
	p.mu.Unlock()
	metrics.SegmentUploaded(time.Since(start).Seconds())
	slog.Info("segment uploaded", "sequence", seg.Sequence, "recording_id", ack.RecordingID,
		"role", seg.Role, "final", seg.Final)

	ev := Event{Kind: EventSegmentUploaded, Segment: *seg, Ack: ack}
	if p.archive != nil {
		key, err := p.archive.Archive(ctx, seg)
		if err != nil {
			metrics.ArchiveFailed()
			slog.Warn("segment archive failed", "sequence", seg.Sequence, "error", err)
		} else {
			ev.ArchiveKey = key
			slog.Debug("segment archived", "sequence", seg.Sequence, "key", key)
		}
	}
	p.emit(ev)
}
