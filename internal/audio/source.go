package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

// probeTimeout bounds how long Open waits for the first PCM bytes.
const probeTimeout = 5 * time.Second

// permissionMarkers are stderr fragments that indicate an OS privacy refusal
// rather than a missing or busy device.
var permissionMarkers = []string{
	"permission denied",
	"operation not permitted",
	"access denied",
	"not authorized",
	"tcc",
}

// Options configures a device acquisition.
type Options struct {
	Device     string
	FFmpegPath string
	Processing Processing
}

// Opener acquires a capture device. It is satisfied by FFmpegOpener and by
// test doubles that replay PCM.
type Opener interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FFmpegOpener captures from a local input device through an FFmpeg subprocess.
type FFmpegOpener struct {
	opts Options
}

// NewFFmpegOpener returns an opener for the given capture options.
func NewFFmpegOpener(opts Options) *FFmpegOpener {
	return &FFmpegOpener{opts: opts}
}

// Open starts capture and blocks until the device delivers audio, fails, or
// ctx is done. The returned reader yields mono 16 kHz S16LE PCM.
func (o *FFmpegOpener) Open(ctx context.Context) (io.ReadCloser, error) {
	ffmpegPath := ResolveFFmpegPath(o.opts.FFmpegPath)
	if ffmpegPath == "" {
		return nil, &CaptureError{Err: ErrDeviceUnavailable, Device: o.opts.Device, Detail: "ffmpeg not found"}
	}

	device, args, err := BuildCaptureCommand(o.opts.Device, o.opts.Processing)
	if err != nil {
		return nil, &CaptureError{Err: ErrDeviceUnavailable, Device: o.opts.Device, Detail: err.Error()}
	}

	slog.Info("starting audio capture", "device", device, "noise_suppression", o.opts.Processing.NoiseSuppression,
		"auto_gain", o.opts.Processing.AutoGain, "echo_cancellation", o.opts.Processing.EchoCancellation)

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, ffmpegPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, util.WrapError("create stdin pipe", err)
	}
	// Graceful shutdown: interrupt first, kill after WaitDelay.
	cmd.Cancel = func() error {
		return interruptCapture(cmd, stdin)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, util.WrapError("create stdout pipe", err)
	}

	src := &Source{
		device: device,
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	cmd.Stderr = &src.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &CaptureError{Err: ErrDeviceUnavailable, Device: device, Detail: err.Error()}
	}
	src.reader = bufio.NewReaderSize(stdout, types.BytesForDuration(100*time.Millisecond))

	if err := src.probe(ctx); err != nil {
		_ = src.Close()
		return nil, err
	}

	slog.Info("audio capture started", "device", device)
	return src, nil
}

// Source is a running capture process. Reads return raw PCM; Close stops the
// process and returns once the device has been released.
type Source struct {
	device string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	reader *bufio.Reader

	stderr lockedBuffer

	closeOnce sync.Once
	waitMu    sync.Mutex
	done      chan struct{}
	waitErr   error
}

// probe waits for the first PCM byte so device failures surface from Open.
func (s *Source) probe(ctx context.Context) error {
	result := make(chan error, 1)
	go func() {
		_, err := s.reader.Peek(1)
		result <- err
	}()

	timer := time.NewTimer(probeTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if err == nil {
			return nil
		}
		s.wait()
		return s.classify()
	case <-timer.C:
		return &CaptureError{Err: ErrDeviceUnavailable, Device: s.device, Detail: "no audio received"}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify maps the process output to a capture error.
func (s *Source) classify() error {
	detail := util.LastLine(s.stderr.String())
	return &CaptureError{Err: ClassifyStderr(s.stderr.String()), Device: s.device, Detail: detail}
}

// ClassifyStderr reports whether FFmpeg output indicates a permission refusal
// (ErrPermissionDenied) or any other device failure (ErrDeviceUnavailable).
func ClassifyStderr(stderr string) error {
	lower := strings.ToLower(stderr)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return ErrPermissionDenied
		}
	}
	return ErrDeviceUnavailable
}

// Device returns the resolved device identifier.
func (s *Source) Device() string {
	return s.device
}

// Read reads captured PCM.
func (s *Source) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close stops capture. It is safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wait()
		slog.Info("audio capture stopped", "device", s.device)
	})
	return s.closeErr()
}

func (s *Source) wait() {
	select {
	case <-s.done:
		return
	default:
	}
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	select {
	case <-s.done:
	default:
		s.waitErr = s.cmd.Wait()
		close(s.done)
	}
}

func (s *Source) closeErr() error {
	var exitErr *exec.ExitError
	// An interrupted capture exits non-zero; that is the expected outcome of Close.
	if s.waitErr == nil || errors.As(s.waitErr, &exitErr) || errors.Is(s.waitErr, context.Canceled) {
		return nil
	}
	return fmt.Errorf("capture process: %w", s.waitErr)
}

// lockedBuffer is a bytes.Buffer safe for the concurrent writes exec makes
// from its stderr copier and reads from classify.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
