package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/huddlehq/huddle-recorder/internal/audio"
	"github.com/huddlehq/huddle-recorder/internal/eventlog"
	"github.com/huddlehq/huddle-recorder/internal/recording"
	"github.com/huddlehq/huddle-recorder/internal/session"
)

// defaultEventLimit is the number of journal entries returned by default.
const defaultEventLimit = 50

// API response helpers

func (s *StatusServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *StatusServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// handleStatus returns the full session status.
func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Status())
}

// handleParticipants returns the last participant snapshot.
func (s *StatusServer) handleParticipants(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Status().Participants)
}

// handleDevices returns available audio devices.
func (s *StatusServer) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, audio.Devices())
}

// handleEvents handles GET /api/events?limit=&offset=&filter=.
func (s *StatusServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journalPath == "" {
		s.writeError(w, http.StatusNotFound, "event log is not configured")
		return
	}

	limit, ok := queryInt(r, "limit", defaultEventLimit)
	if !ok || limit == 0 || limit > eventlog.MaxReadLimit {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(eventlog.MaxReadLimit))
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	filter := eventlog.TypeFilter(r.URL.Query().Get("filter"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterChannel, eventlog.FilterRole, eventlog.FilterRecording, eventlog.FilterUpload:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown filter")
		return
	}

	entries, hasMore, err := eventlog.ReadLast(s.journalPath, limit, offset, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"has_more": hasMore,
	})
}

// handleRecordingStart handles POST /api/recording/start.
func (s *StatusServer) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, session.CmdStartRecording, "recording_started")
}

// handleRecordingStop handles POST /api/recording/stop.
func (s *StatusServer) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, session.CmdStopRecording, "recording_stopped")
}

func (s *StatusServer) runCommand(w http.ResponseWriter, r *http.Request, cmd session.CommandType, okStatus string) {
	err := s.session.Do(r.Context(), session.Command{Type: cmd})
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": okStatus})
	case errors.Is(err, recording.ErrAlreadyRecording):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusBadRequest, err.Error())
	}
}
