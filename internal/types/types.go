// Package types provides shared type definitions used across the recorder.
package types

import (
	"slices"
	"time"
)

// Session identifies one device's participation in one meeting.
// It is created once per process and never mutated.
type Session struct {
	ID        string `json:"session_id"`
	MeetingID string `json:"meeting_id"`
	UserAgent string `json:"user_agent"`
}

// ChannelName identifies one of the two logical message channels.
type ChannelName string

const (
	// ChannelMeeting carries presence and recording status events.
	ChannelMeeting ChannelName = "meeting"
	// ChannelCoordination carries quality telemetry and role decisions.
	ChannelCoordination ChannelName = "coordination"
)

// ChannelStatus is the lifecycle state of a single channel.
type ChannelStatus string

const (
	// StatusDisconnected indicates no transport is attached.
	StatusDisconnected ChannelStatus = "disconnected"
	// StatusConnecting indicates a handshake is in progress.
	StatusConnecting ChannelStatus = "connecting"
	// StatusOpen indicates messages can be sent and received.
	StatusOpen ChannelStatus = "open"
	// StatusClosing indicates an intentional close is in progress.
	StatusClosing ChannelStatus = "closing"
)

// ChannelState is a point-in-time view of one channel.
type ChannelState struct {
	Channel           ChannelName   `json:"channel"`
	Status            ChannelStatus `json:"status"`
	ReconnectAttempts int           `json:"reconnect_attempt_count"`
	LastCloseReason   string        `json:"last_close_reason,omitempty"`
	Exhausted         bool          `json:"exhausted,omitempty"` // Reconnect cap reached; terminal until Connect
	Generation        uint64        `json:"generation"`          // Successful opens so far
}

// Role is the recorder role assigned to this device by the server-side elector.
type Role string

const (
	// RoleUnassigned is held until the first decision naming any role arrives.
	RoleUnassigned Role = "unassigned"
	// RolePrimary records at full fidelity.
	RolePrimary Role = "primary"
	// RoleBackup keeps recording; uploads are redundant/failover-only.
	RoleBackup Role = "backup"
	// RolePassive suppresses recording or marks its output as inert.
	RolePassive Role = "passive"
)

// QualityMetrics is one quality snapshot. All scores are within [0,1].
type QualityMetrics struct {
	VolumeLevel     float64 `json:"volume_level"`
	BackgroundNoise float64 `json:"background_noise"`
	ClarityScore    float64 `json:"clarity_score"`
	ProximityScore  float64 `json:"proximity_score"` // Two-level heuristic: 0.3 or 0.8
}

// Decision is the elector's assignment of recorders for a meeting.
type Decision struct {
	PrimaryRecorder string   `json:"primary_recorder"`
	BackupRecorders []string `json:"backup_recorders"`
	DecisionID      int64    `json:"decision_id,omitempty"`
}

// RoleFor resolves the role a decision assigns to sessionID.
func (d *Decision) RoleFor(sessionID string) Role {
	switch {
	case d.PrimaryRecorder == sessionID:
		return RolePrimary
	case slices.Contains(d.BackupRecorders, sessionID):
		return RoleBackup
	default:
		return RolePassive
	}
}

// Participant is one entry of the meeting status participant list.
type Participant struct {
	SessionID         string   `json:"session_id"`
	IsRecording       bool     `json:"is_recording"`
	AudioQualityScore *float64 `json:"audio_quality_score"`
	LastSeen          string   `json:"last_seen,omitempty"`
}

// MeetingStatus is the response of the meeting status endpoint.
type MeetingStatus struct {
	MeetingID             string        `json:"meeting_id"`
	IsActive              bool          `json:"is_active"`
	ParticipantCount      int           `json:"participant_count"`
	RecordingParticipants int           `json:"recording_participants"`
	Participants          []Participant `json:"participants"`
}

// Audio format constants for PCM capture and segment encoding.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000
	// Channels is the number of capture channels (mono).
	Channels = 1
	// BytesPerSample is the size of one S16LE sample.
	BytesPerSample = 2
)

// Timing defaults shared by the connection manager, analyzer and pipeline.
const (
	// ConnectTimeout bounds how long Connect waits for the meeting channel.
	ConnectTimeout = 10000 * time.Millisecond
	// ReconnectBaseDelay is multiplied by the attempt number.
	ReconnectBaseDelay = 1000 * time.Millisecond
	// MaxReconnectAttempts caps reconnects per channel.
	MaxReconnectAttempts = 5
	// SegmentDuration is the length of one audio segment.
	SegmentDuration = 5000 * time.Millisecond
	// QualityInterval is the cadence of quality snapshots.
	QualityInterval = 2000 * time.Millisecond
	// UploadTimeout bounds a single segment upload.
	UploadTimeout = 60000 * time.Millisecond
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
)

// BytesForDuration returns the PCM byte count for d at the capture format.
func BytesForDuration(d time.Duration) int {
	samples := int(d.Milliseconds()) * SampleRate / 1000
	return samples * Channels * BytesPerSample
}

// DurationForBytes returns the audio duration represented by n PCM bytes.
func DurationForBytes(n int) time.Duration {
	samples := n / (Channels * BytesPerSample)
	return time.Duration(samples) * time.Second / SampleRate
}
