package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"path/filepath"

	"github.com/huddlehq/huddle-recorder/internal/api"
	"github.com/huddlehq/huddle-recorder/internal/audio"
	"github.com/huddlehq/huddle-recorder/internal/config"
	"github.com/huddlehq/huddle-recorder/internal/connection"
	"github.com/huddlehq/huddle-recorder/internal/coordinator"
	"github.com/huddlehq/huddle-recorder/internal/eventlog"
	"github.com/huddlehq/huddle-recorder/internal/notify"
	"github.com/huddlehq/huddle-recorder/internal/quality"
	"github.com/huddlehq/huddle-recorder/internal/recording"
	"github.com/huddlehq/huddle-recorder/internal/session"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
	"github.com/spf13/cobra"
)

// spoolDirName is the segment spool directory under the configured temp dir.
const spoolDirName = "huddle-recorder"

func newJoinCmd(opts *rootOptions) *cobra.Command {
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "join [meeting-id]",
		Short: "Join a meeting and record when elected",
		Long:  "Joins the meeting's meeting and coordination channels, reports audio quality, and records when the server assigns this device a recorder role. Ctrl+C leaves the meeting.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			meetingID := cfg.Snapshot().MeetingID
			if len(args) == 1 {
				meetingID = args[0]
			}
			if meetingID == "" {
				return errors.New("meeting id is required (argument or meeting.id in config)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), util.ShutdownSignals()...)
			defer stop()
			return runJoin(ctx, cfg, meetingID, autoStart)
		},
	}
	cmd.Flags().BoolVar(&autoStart, "record", false, "Start recording as soon as the meeting channel opens")

	return cmd
}

// runJoin wires one session and runs it until ctx is done.
func runJoin(ctx context.Context, cfg *config.Config, meetingID string, autoStart bool) error {
	snap := cfg.Snapshot()
	sess := session.NewSession(meetingID, userAgent())
	slog.Info("starting session", "meeting_id", meetingID, "session_id", sess.ID, "server", snap.ServerURL, "user_agent", sess.UserAgent)

	oauth := api.OAuthConfig{
		TokenURL:     snap.OAuthTokenURL,
		ClientID:     snap.OAuthClientID,
		ClientSecret: snap.OAuthClientSecret,
		Scopes:       snap.OAuthScopes,
	}
	httpClient := api.NewHTTPClient(oauth, snap.InsecureSkipVerify)
	creds := api.Credentials{
		CSRFToken:     snap.CSRFToken,
		SessionCookie: snap.SessionCookie,
		UserAgent:     sess.UserAgent,
	}
	client := api.NewClient(snap.ServerURL, httpClient, creds)

	dialer := connection.NewWebSocketDialer(creds.Header(snap.ServerURL), api.TokenSource(oauth, httpClient), snap.InsecureSkipVerify)
	conns, err := connection.NewManager(sess, connection.Options{
		BaseURL:        snap.ServerURL,
		Dialer:         dialer,
		ConnectTimeout: snap.ConnectTimeout,
		BaseDelay:      snap.BaseDelay,
		MaxAttempts:    snap.MaxAttempts,
	})
	if err != nil {
		return err
	}

	spool := filepath.Join(snap.TempDir, spoolDirName)
	if n := recording.SweepSpool(spool, recording.StaleSegmentAge); n > 0 {
		slog.Info("removed orphaned segments", "count", n, "dir", spool)
	}

	var archive recording.Archiver
	if snap.HasArchive() {
		archive = recording.NewS3Archive(&recording.ArchiveConfig{
			Endpoint:        snap.ArchiveEndpoint,
			Region:          snap.ArchiveRegion,
			Bucket:          snap.ArchiveBucket,
			Prefix:          snap.ArchivePrefix,
			AccessKeyID:     snap.ArchiveAccessKey,
			SecretAccessKey: snap.ArchiveSecretKey,
		})
		slog.Info("segment archive enabled", "bucket", snap.ArchiveBucket)
	}

	window := quality.NewWindow()
	opener := audio.NewFFmpegOpener(audio.Options{
		Device:     snap.AudioInput,
		FFmpegPath: snap.FFmpegPath,
		Processing: audio.Processing{
			EchoCancellation: snap.EchoCancellation,
			NoiseSuppression: snap.NoiseSuppression,
			AutoGain:         snap.AutoGain,
		},
	})
	pipeline := recording.NewPipeline(recording.Options{
		MeetingID:       meetingID,
		SessionID:       sess.ID,
		SegmentDuration: snap.SegmentDuration,
		QueueSize:       snap.UploadQueueSize,
		TempDir:         spool,
		UploadTimeout:   types.UploadTimeout,
		Tap:             window.Write,
	}, opener, client, archive)

	var journal *eventlog.Logger
	if snap.HasEventLog() {
		journal, err = eventlog.NewLogger(snap.EventLogPath, sess.ID)
		if err != nil {
			slog.Warn("event journal disabled", "path", snap.EventLogPath, "error", err)
		}
	}

	ctrl := session.New(session.Options{
		Session:         sess,
		QualityInterval: snap.QualityInterval,
		AutoStart:       snap.AutoStart || autoStart,
		StopWhenPassive: snap.StopWhenPassive,
		MaxAttempts:     snap.MaxAttempts,
		Version:         displayVersion(Version),
	}, session.Deps{
		Connections:  conns,
		Pipeline:     pipeline,
		Window:       window,
		Participants: coordinator.NewParticipantView(client, meetingID),
		Notifier:     notify.NewNotifier(snap.WebhookURL, nil, sess),
		Journal:      journal,
	})

	if snap.StatusListen != "" {
		srv := NewStatusServer(cfg, ctrl, journal.Path())
		httpServer, err := srv.Start(snap.StatusListen)
		if err != nil {
			// The session does not depend on the status server.
			slog.Error("status server not started", "addr", snap.StatusListen, "error", err)
		} else {
			defer shutdownServer(httpServer)
		}
	}

	err = ctrl.Run(ctx)
	slog.Info("session ended", "meeting_id", meetingID)
	return err
}
