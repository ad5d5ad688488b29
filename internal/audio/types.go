package audio

import (
	"errors"
	"fmt"
)

// Capture errors. Both are fatal to the current start attempt and are not retried.
var (
	// ErrNoAudioDevice is returned when no audio input device is available.
	ErrNoAudioDevice = errors.New("no audio input device found")
	// ErrPermissionDenied is returned when the OS refuses access to the input device.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable is returned when the input device cannot be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// CaptureError describes a failed device acquisition.
type CaptureError struct {
	Err    error  // ErrPermissionDenied or ErrDeviceUnavailable
	Device string // Device identifier that was requested
	Detail string // Last line of capture process output, if any
}

func (e *CaptureError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (device %q)", e.Err, e.Device)
	}
	return fmt.Sprintf("%v (device %q): %s", e.Err, e.Device, e.Detail)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Processing selects the voice processing applied to captured audio.
type Processing struct {
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
	AutoGain         bool `json:"auto_gain"`
}

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
	// Default marks the input used when no device is configured.
	Default bool `json:"default,omitempty"`
}
