package types

import "time"

// EventType names a state change the UI layer may observe.
type EventType string

// UI event types.
const (
	EventConnectionRestored      EventType = "connection_restored"
	EventConnectionLost          EventType = "connection_lost"
	EventCoordinationUnavailable EventType = "coordination_unavailable"
	EventRoleChanged             EventType = "role_changed"
	EventPermissionDenied        EventType = "permission_denied"
	EventDeviceUnavailable       EventType = "device_unavailable"
	EventRecordingStarted        EventType = "recording_started"
	EventRecordingStopped        EventType = "recording_stopped"
	EventSegmentUploaded         EventType = "segment_uploaded"
	EventSegmentDropped          EventType = "segment_dropped"
	EventParticipantsUpdated     EventType = "participants_updated"
	EventPeerQuality             EventType = "peer_quality"
	EventQuality                 EventType = "quality"
)

// Event is one entry of the UI event feed.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"ts"`
	Channel   ChannelName `json:"channel,omitempty"`
	Role      Role        `json:"role,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      any         `json:"data,omitempty"`
}

// NewEvent returns an event stamped with the current time.
func NewEvent(t EventType, msg string) Event {
	return Event{Type: t, Timestamp: time.Now(), Message: msg}
}

// RecordingInfo summarizes the capture pipeline for status responses.
type RecordingInfo struct {
	State            string `json:"state"`
	Device           string `json:"device,omitempty"`
	SegmentsCut      int    `json:"segments_cut"`
	SegmentsUploaded int    `json:"segments_uploaded"`
	SegmentsDropped  int    `json:"segments_dropped"`
	LastUploadError  string `json:"last_upload_error,omitempty"`
	Uptime           string `json:"uptime,omitzero"`
}

// StatusResponse is the full client status served to the UI layer.
type StatusResponse struct {
	Type                  string          `json:"type"` // "status"
	Session               Session         `json:"session"`
	Channels              []ChannelState  `json:"channels"`
	Role                  Role            `json:"role"`
	CoordinationAvailable bool            `json:"coordination_available"`
	Recording             RecordingInfo   `json:"recording"`
	Quality               *QualityMetrics `json:"quality,omitempty"`
	Participants          []Participant   `json:"participants"`
	Version               string          `json:"version"`
}
