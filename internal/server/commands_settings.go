package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/audio"
	"github.com/huddlehq/huddle-recorder/internal/recording"
)

// archiveTestTimeout bounds an archive/test round trip.
const archiveTestTimeout = 15 * time.Second

// --- Audio handlers ---

// handleAudioUpdate processes an audio/update command. The new input is
// persisted and used the next time capture starts.
func (h *CommandHandler) handleAudioUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *AudioUpdateRequest) error {
		if req.Input == h.cfg.AudioInput() {
			return nil // No change requested
		}

		slog.Info("audio/update: changing audio input", "input", req.Input)
		return h.cfg.SetAudioInput(req.Input)
	})
}

// handleAudioDevices processes an audio/devices command.
func (h *CommandHandler) handleAudioDevices(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(context.Context) (any, error) {
		return audio.Devices(), nil
	})
}

// --- Archive handlers ---

// handleArchiveTest processes an archive/test command against the configured
// S3 archive.
func (h *CommandHandler) handleArchiveTest(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
		snap := h.cfg.Snapshot()
		if !snap.HasArchive() {
			return nil, errors.New("archive is not configured")
		}

		ctx, cancel := context.WithTimeout(ctx, archiveTestTimeout)
		defer cancel()

		err := recording.TestArchiveConnection(ctx, &recording.ArchiveConfig{
			Endpoint:        snap.ArchiveEndpoint,
			Region:          snap.ArchiveRegion,
			Bucket:          snap.ArchiveBucket,
			Prefix:          snap.ArchivePrefix,
			AccessKeyID:     snap.ArchiveAccessKey,
			SecretAccessKey: snap.ArchiveSecretKey,
		})
		if err != nil {
			slog.Error("archive/test failed", "bucket", snap.ArchiveBucket, "error", err)
			return nil, err
		}
		slog.Info("archive/test succeeded", "bucket", snap.ArchiveBucket)
		return nil, nil
	})
}
