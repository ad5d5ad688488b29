//go:build linux

package audio

import "regexp"

func platformConfig() CaptureConfig {
	return CaptureConfig{
		InputFormat:   "alsa",
		DefaultDevice: "default",
		ListConfig: DeviceListConfig{
			Command:       []string{"arecord", "-l"},
			DevicePattern: regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
			ParseDevice: func(matches []string) *Device {
				if len(matches) < 4 {
					return nil
				}
				return &Device{
					ID:   "default:CARD=" + matches[2],
					Name: matches[3],
				}
			},
			FallbackDevices: []Device{
				{ID: "default", Name: "System default"},
			},
		},
	}
}
