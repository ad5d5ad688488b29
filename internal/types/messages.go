package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Outbound message types.
const (
	MsgParticipantJoined   = "participant_joined"
	MsgQualityUpdate       = "quality_update"
	MsgRequestCoordination = "request_coordination"
	MsgRecordingStatus     = "recording_status"
)

// Inbound message types.
const (
	MsgParticipantJoinedEvent = "participant_joined_message"
	MsgAudioQualityEvent      = "audio_quality_message"
	MsgRecordingStatusEvent   = "recording_status_message"
	MsgQualityUpdateEvent     = "quality_update_message"
	MsgCoordinationDecision   = "coordination_decision_message"
)

// Envelope carries only the type discriminator of a channel message.
type Envelope struct {
	Type string `json:"type"`
}

// ParticipantJoined announces this session on the meeting channel.
type ParticipantJoined struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserAgent string `json:"user_agent"`
}

// QualityUpdate carries one quality snapshot on the coordination channel.
type QualityUpdate struct {
	Type           string         `json:"type"`
	SessionID      string         `json:"session_id"`
	QualityMetrics QualityMetrics `json:"quality_metrics"`
}

// RequestCoordination asks the server to run the elector.
type RequestCoordination struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// RecordingStatus reports whether this session is recording.
type RecordingStatus struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	IsRecording bool   `json:"is_recording"`
}

// ParticipantJoinedEvent is the server broadcast of a participant join.
type ParticipantJoinedEvent struct {
	SessionID string `json:"session_id"`
	UserAgent string `json:"user_agent"`
}

// AudioQualityEvent is the server broadcast of a participant's quality score.
type AudioQualityEvent struct {
	SessionID    string   `json:"session_id"`
	QualityScore *float64 `json:"quality_score"`
}

// RecordingStatusEvent is the server broadcast of a participant's recording state.
type RecordingStatusEvent struct {
	SessionID   string `json:"session_id"`
	IsRecording bool   `json:"is_recording"`
}

// QualityUpdateEvent is a peer's quality snapshot relayed by the server.
type QualityUpdateEvent struct {
	SessionID      string         `json:"session_id"`
	QualityMetrics QualityMetrics `json:"quality_metrics"`
}

// CoordinationDecisionEvent carries an elector decision. Decision is nil when
// the server could not elect (unknown meeting or no participants).
type CoordinationDecisionEvent struct {
	Decision *Decision `json:"decision"`
}

// RecordingID is the server identifier of an uploaded segment.
// The server may encode it as a JSON number or string.
type RecordingID string

// UnmarshalJSON accepts both numeric and string identifiers.
func (id *RecordingID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordingID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("recording_id: %w", err)
	}
	*id = RecordingID(n.String())
	return nil
}

// UploadAck is the server response to a successful segment upload.
type UploadAck struct {
	RecordingID         RecordingID `json:"recording_id"`
	Status              string      `json:"status,omitempty"`
	QueuedForProcessing bool        `json:"queued_for_processing,omitempty"`
}
