package audio

import (
	"bufio"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// Devices returns the capture inputs of the current platform. The platform
// default input, when there is one, comes first and is marked Default.
func Devices() []Device {
	cfg := platformConfig()
	return withDefault(parseDeviceList(cfg.ListConfig), cfg.DefaultDevice)
}

// DeviceListConfig defines how to list audio devices for a platform.
type DeviceListConfig struct {
	// Command and args to list devices.
	Command []string

	// AudioStartMarker indicates the start of audio devices section.
	AudioStartMarker string

	// AudioStopMarker indicates the end of audio devices section (optional).
	AudioStopMarker string

	// DevicePattern is the regex to extract device info.
	DevicePattern *regexp.Regexp

	// ParseDevice converts regex matches to a Device.
	ParseDevice func(matches []string) *Device

	// FallbackDevices are returned if detection fails.
	FallbackDevices []Device
}

// parseDeviceList runs the platform listing command and parses its output.
// The listing tools exit non-zero after printing devices, so output wins
// over the exit status.
//
//nolint:gocritic // hugeParam: 96 bytes is acceptable, no performance impact
func parseDeviceList(cfg DeviceListConfig) []Device {
	if len(cfg.Command) == 0 {
		return cfg.FallbackDevices
	}

	output, err := exec.Command(cfg.Command[0], cfg.Command[1:]...).CombinedOutput()
	if err != nil && len(output) == 0 {
		slog.Warn("audio device listing failed", "command", cfg.Command[0], "error", err)
		return cfg.FallbackDevices
	}
	return parseDeviceOutput(cfg, string(output))
}

// parseDeviceOutput extracts devices from listing output. A device listed
// more than once (one line per ALSA subdevice) is returned once.
//
//nolint:gocritic // hugeParam: 96 bytes is acceptable, no performance impact
func parseDeviceOutput(cfg DeviceListConfig, output string) []Device {
	if cfg.DevicePattern == nil || cfg.ParseDevice == nil {
		return cfg.FallbackDevices
	}

	var devices []Device
	seen := make(map[string]bool)
	inSection := cfg.AudioStartMarker == ""

	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case cfg.AudioStartMarker != "" && strings.Contains(line, cfg.AudioStartMarker):
			inSection = true
			continue
		case cfg.AudioStopMarker != "" && strings.Contains(line, cfg.AudioStopMarker):
			inSection = false
			continue
		case !inSection, strings.Contains(line, "Alternative name"):
			continue
		}

		matches := cfg.DevicePattern.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		dev := cfg.ParseDevice(matches)
		if dev == nil || seen[dev.ID] {
			continue
		}
		seen[dev.ID] = true
		devices = append(devices, *dev)
	}

	if len(devices) == 0 {
		return cfg.FallbackDevices
	}
	return devices
}

// withDefault moves or inserts the platform default input at the front of
// devices. An empty defaultID leaves devices unchanged.
func withDefault(devices []Device, defaultID string) []Device {
	if defaultID == "" {
		return devices
	}

	out := make([]Device, 0, len(devices)+1)
	def := Device{ID: defaultID, Name: "System default", Default: true}
	for _, d := range devices {
		if d.ID == defaultID {
			def.Name = d.Name
			continue
		}
		out = append(out, d)
	}
	return append([]Device{def}, out...)
}
