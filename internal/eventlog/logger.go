// Package eventlog provides the session event journal.
// Channel, role, recording and upload events are appended to a single JSON
// lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Channel event types.
const (
	ChannelOpen      EventType = "channel_open"
	ChannelLost      EventType = "channel_lost"
	ChannelExhausted EventType = "channel_exhausted"
)

// Role event types.
const (
	RoleChanged     EventType = "role_changed"
	DecisionIgnored EventType = "decision_ignored"
)

// Recording event types.
const (
	RecordingStarted EventType = "recording_started"
	RecordingStopped EventType = "recording_stopped"
	CaptureFailed    EventType = "capture_failed"
)

// Upload event types.
const (
	SegmentUploaded EventType = "segment_uploaded"
	SegmentDropped  EventType = "segment_dropped"
	SegmentArchived EventType = "segment_archived"
)

var (
	channelEvents   = []EventType{ChannelOpen, ChannelLost, ChannelExhausted}
	roleEvents      = []EventType{RoleChanged, DecisionIgnored}
	recordingEvents = []EventType{RecordingStarted, RecordingStopped, CaptureFailed}
	uploadEvents    = []EventType{SegmentUploaded, SegmentDropped, SegmentArchived}
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// ChannelDetails contains channel-specific event details.
type ChannelDetails struct {
	Channel     string `json:"channel"`
	Reason      string `json:"reason,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// RoleDetails contains role assignment details.
type RoleDetails struct {
	From       string `json:"from,omitempty"`
	To         string `json:"to"`
	DecisionID int64  `json:"decision_id,omitempty"`
}

// SegmentDetails contains segment upload details.
type SegmentDetails struct {
	Sequence    int    `json:"sequence"`
	Filename    string `json:"filename,omitempty"`
	Role        string `json:"recorder_role,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
	Final       bool   `json:"final,omitempty"`
	RecordingID string `json:"recording_id,omitempty"`
	ArchiveKey  string `json:"archive_key,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu        sync.Mutex
	filePath  string
	sessionID string
	file      *os.File
	encoder   *json.Encoder
}

// DefaultLogPath returns the platform-specific journal path.
func DefaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "huddle-recorder", "events.jsonl")
	default:
		if dir, err := os.UserCacheDir(); err == nil {
			return filepath.Join(dir, "huddle-recorder", "events.jsonl")
		}
		return filepath.Join(os.TempDir(), "huddle-recorder", "events.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
// Every event is stamped with sessionID.
func NewLogger(filePath, sessionID string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath:  filePath,
		sessionID: sessionID,
		file:      file,
		encoder:   json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file. A nil Logger discards the event.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	return l.encoder.Encode(event)
}

// LogChannel logs a channel event.
func (l *Logger) LogChannel(eventType EventType, channel, reason string, attempts, maxAttempts int) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &ChannelDetails{
			Channel:     channel,
			Reason:      reason,
			Attempts:    attempts,
			MaxAttempts: maxAttempts,
		},
	})
}

// LogRole logs a role transition.
func (l *Logger) LogRole(from, to string, decisionID int64) error {
	return l.Log(&Event{
		Type:    RoleChanged,
		Details: &RoleDetails{From: from, To: to, DecisionID: decisionID},
	})
}

// LogRecording logs a recording lifecycle event.
func (l *Logger) LogRecording(eventType EventType, message string) error {
	return l.Log(&Event{Type: eventType, Message: message})
}

// LogSegment logs a segment upload outcome.
func (l *Logger) LogSegment(eventType EventType, details *SegmentDetails) error {
	return l.Log(&Event{Type: eventType, Details: details})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterChannel   TypeFilter = "channel"
	FilterRole      TypeFilter = "role"
	FilterRecording TypeFilter = "recording"
	FilterUpload    TypeFilter = "upload"
)

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterAll:
		return true
	case FilterChannel:
		return slices.Contains(channelEvents, t)
	case FilterRole:
		return slices.Contains(roleEvents, t)
	case FilterRecording:
		return slices.Contains(recordingEvents, t)
	case FilterUpload:
		return slices.Contains(uploadEvents, t)
	default:
		return false
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads up to n events starting from offset, newest first, keeping
// only those that pass filter. The second result reports whether older
// matching events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}
