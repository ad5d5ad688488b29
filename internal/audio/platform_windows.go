//go:build windows

package audio

import (
	"regexp"
	"strings"
)

func platformConfig() CaptureConfig {
	return CaptureConfig{
		InputFormat:   "dshow",
		DefaultDevice: "", // No safe default on Windows; first listed device is used
		ListConfig: DeviceListConfig{
			Command: []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
			// FFmpeg versions differ in section headers, so match "(audio)" lines instead.
			DevicePattern: regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`),
			ParseDevice: func(matches []string) *Device {
				if len(matches) < 2 {
					return nil
				}
				name := strings.TrimSpace(matches[1])
				return &Device{ID: "audio=" + name, Name: name}
			},
		},
	}
}
