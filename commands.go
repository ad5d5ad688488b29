package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/api"
	"github.com/huddlehq/huddle-recorder/internal/audio"
	"github.com/huddlehq/huddle-recorder/internal/config"
	"github.com/huddlehq/huddle-recorder/internal/recording"
	"github.com/huddlehq/huddle-recorder/internal/util"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	githubAPIBase = "https://api.github.com"
	doctorTimeout = 15000 * time.Millisecond
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printDevices(cmd.OutOrStdout(), audio.Devices())
			return nil
		},
	}
}

func printDevices(w io.Writer, devices []audio.Device) {
	if len(devices) == 0 {
		_, _ = fmt.Fprintln(w, "no audio input devices found")
		return
	}
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		_, _ = fmt.Fprintf(w, "%s %-24s %s\n", marker, d.ID, d.Name)
	}
}

// check is one doctor probe. Errors wrapping errSkipped are reported as skipped.
type check struct {
	name string
	run  func(ctx context.Context, snap config.Snapshot) (detail string, err error)
}

var doctorChecks = []check{
	{"ffmpeg", checkFFmpeg},
	{"audio devices", checkDevices},
	{"spool directory", checkSpool},
	{"meeting server", checkServer},
	{"segment archive", checkArchive},
	{"webhook", checkWebhook},
}

var errSkipped = errors.New("not configured")

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check capture, server and archive configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
			defer cancel()

			if failed := runDoctor(ctx, cmd.OutOrStdout(), cfg.Snapshot(), doctorChecks); failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

// runDoctor runs checks concurrently, reports them in order and returns how
// many failed.
func runDoctor(ctx context.Context, w io.Writer, snap config.Snapshot, checks []check) int {
	type result struct {
		detail string
		err    error
	}
	results := make([]result, len(checks))

	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			detail, err := c.run(ctx, snap)
			results[i] = result{detail, err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, c := range checks {
		r := results[i]
		switch {
		case errors.Is(r.err, errSkipped):
			_, _ = fmt.Fprintf(w, "[skip] %s: %s\n", c.name, r.err)
		case r.err != nil:
			failed++
			_, _ = fmt.Fprintf(w, "[FAIL] %s: %s\n", c.name, r.err)
		default:
			_, _ = fmt.Fprintf(w, "[ ok ] %s: %s\n", c.name, r.detail)
		}
	}
	return failed
}

func checkFFmpeg(_ context.Context, snap config.Snapshot) (string, error) {
	path := audio.ResolveFFmpegPath(snap.FFmpegPath)
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", path, err)
	}
	return resolved, nil
}

func checkDevices(_ context.Context, _ config.Snapshot) (string, error) {
	devices := audio.Devices()
	if len(devices) == 0 {
		return "", errors.New("no audio input devices found")
	}
	return fmt.Sprintf("%d found", len(devices)), nil
}

func checkSpool(_ context.Context, snap config.Snapshot) (string, error) {
	dir := filepath.Join(snap.TempDir, spoolDirName)
	if err := util.CheckPathWritable(dir); err != nil {
		return "", err
	}
	return dir + " writable", nil
}

func checkServer(ctx context.Context, snap config.Snapshot) (string, error) {
	if snap.MeetingID == "" {
		return "", fmt.Errorf("%w (set meeting.id to probe %s)", errSkipped, snap.ServerURL)
	}
	oauth := api.OAuthConfig{
		TokenURL:     snap.OAuthTokenURL,
		ClientID:     snap.OAuthClientID,
		ClientSecret: snap.OAuthClientSecret,
		Scopes:       snap.OAuthScopes,
	}
	client := api.NewClient(snap.ServerURL, api.NewHTTPClient(oauth, snap.InsecureSkipVerify), api.Credentials{
		CSRFToken:     snap.CSRFToken,
		SessionCookie: snap.SessionCookie,
		UserAgent:     userAgent(),
	})
	status, err := client.MeetingStatus(ctx, snap.MeetingID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("meeting %s active=%t participants=%d recording=%d",
		status.MeetingID, status.IsActive, status.ParticipantCount, status.RecordingParticipants), nil
}

func checkArchive(ctx context.Context, snap config.Snapshot) (string, error) {
	if !snap.HasArchive() {
		return "", errSkipped
	}
	err := recording.TestArchiveConnection(ctx, &recording.ArchiveConfig{
		Endpoint:        snap.ArchiveEndpoint,
		Region:          snap.ArchiveRegion,
		Bucket:          snap.ArchiveBucket,
		Prefix:          snap.ArchivePrefix,
		AccessKeyID:     snap.ArchiveAccessKey,
		SecretAccessKey: snap.ArchiveSecretKey,
	})
	if err != nil {
		return "", err
	}
	return "bucket " + snap.ArchiveBucket + " writable", nil
}

func checkWebhook(_ context.Context, snap config.Snapshot) (string, error) {
	if !snap.HasWebhook() {
		return "", errSkipped
	}
	return "configured (send a test from the status UI)", nil
}

func newVersionCmd() *cobra.Command {
	var checkLatest bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "%s\ncommit %s, built %s\n", userAgent(), Commit, BuildTime)
			if !checkLatest {
				return nil
			}

			latest, err := latestRelease(cmd.Context(), http.DefaultClient, githubAPIBase)
			if err != nil {
				return fmt.Errorf("check latest release: %w", err)
			}
			switch {
			case latest == "":
				_, _ = fmt.Fprintln(w, "no published releases")
			case isNewerVersion(latest, Version):
				_, _ = fmt.Fprintf(w, "update available: %s (https://github.com/%s/releases)\n", latest, githubRepo)
			default:
				_, _ = fmt.Fprintln(w, "up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkLatest, "check", false, "Check GitHub for a newer release")

	return cmd
}
