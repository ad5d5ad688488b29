package audio

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/huddlehq/huddle-recorder/internal/types"
)

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// InputFormat is the FFmpeg input format (e.g., "alsa", "avfoundation", "dshow").
	InputFormat string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// ListConfig describes how to enumerate input devices.
	ListConfig DeviceListConfig
}

// ResolveFFmpegPath returns the path to the FFmpeg binary.
// If customPath is set, it must resolve to an executable.
// Returns an empty string if FFmpeg is not found.
func ResolveFFmpegPath(customPath string) string {
	name := customPath
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}

// FilterChain returns the FFmpeg audio filter graph for p, or "" when no
// processing is requested. Echo cancellation needs a far-end reference that a
// single capture stream lacks, so it is left to the platform input path
// (e.g. a PulseAudio echo-cancel source) and does not add a filter.
func FilterChain(p Processing) string {
	var filters []string
	if p.NoiseSuppression {
		filters = append(filters, "highpass=f=80", "afftdn=nf=-25")
	}
	if p.AutoGain {
		filters = append(filters, "dynaudnorm=f=250:g=15")
	}
	return strings.Join(filters, ",")
}

// BuildCaptureCommand returns the FFmpeg arguments for capturing device as
// mono 16 kHz S16LE PCM on stdout. If device is empty the platform default is
// used, falling back to the first listed device.
func BuildCaptureCommand(device string, p Processing) (resolved string, args []string, err error) {
	cfg := platformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}
	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := parseDeviceList(cfg.ListConfig)
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	args = append(args, inputArgs()...)
	args = append(args, "-f", cfg.InputFormat, "-i", device, "-vn")
	if chain := FilterChain(p); chain != "" {
		args = append(args, "-af", chain)
	}
	args = append(args,
		"-f", "s16le",
		"-ac", fmt.Sprintf("%d", types.Channels),
		"-ar", fmt.Sprintf("%d", types.SampleRate),
		"pipe:1",
	)
	return device, args, nil
}
