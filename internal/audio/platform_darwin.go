//go:build darwin

package audio

import "regexp"

func platformConfig() CaptureConfig {
	return CaptureConfig{
		InputFormat:   "avfoundation",
		DefaultDevice: ":0",
		ListConfig: DeviceListConfig{
			Command:          []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
			AudioStartMarker: "AVFoundation audio devices:",
			AudioStopMarker:  "AVFoundation video devices:",
			DevicePattern:    regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`),
			ParseDevice: func(matches []string) *Device {
				if len(matches) < 3 {
					return nil
				}
				return &Device{ID: ":" + matches[1], Name: matches[2]}
			},
		},
	}
}
