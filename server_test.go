package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/huddlehq/huddle-recorder/internal/config"
	"github.com/huddlehq/huddle-recorder/internal/eventlog"
	"github.com/huddlehq/huddle-recorder/internal/recording"
	"github.com/huddlehq/huddle-recorder/internal/session"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	err  error
	cmds []session.Command
}

func (s *stubSession) Do(_ context.Context, cmd session.Command) error {
	s.cmds = append(s.cmds, cmd)
	return s.err
}

func (s *stubSession) Status() types.StatusResponse {
	return types.StatusResponse{
		Type:         "status",
		Session:      types.Session{ID: "S1", MeetingID: "m-1"},
		Role:         types.RolePrimary,
		Participants: []types.Participant{{SessionID: "S1"}},
	}
}

func (s *stubSession) Subscribe() (<-chan types.Event, func()) {
	return make(chan types.Event), func() {}
}

func newTestStatusServer(t *testing.T, sess *stubSession, journal string) http.Handler {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	return NewStatusServer(cfg, sess, journal).SetupRoutes()
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestStatusRoute(t *testing.T) {
	h := newTestStatusServer(t, &stubSession{}, "")

	rec := serve(h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	var status types.StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "S1", status.Session.ID)
	assert.Equal(t, types.RolePrimary, status.Role)

	rec = serve(h, http.MethodPost, "/status")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	h := newTestStatusServer(t, &stubSession{}, "")
	rec := serve(h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecordingRoutes(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		err      error
		wantCode int
		wantCmd  session.CommandType
	}{
		{"start", "/api/recording/start", nil, http.StatusOK, session.CmdStartRecording},
		{"stop", "/api/recording/stop", nil, http.StatusOK, session.CmdStopRecording},
		{"already recording", "/api/recording/start", recording.ErrAlreadyRecording, http.StatusConflict, session.CmdStartRecording},
		{"session ended", "/api/recording/stop", session.ErrStopped, http.StatusServiceUnavailable, session.CmdStopRecording},
		{"capture failed", "/api/recording/start", errors.New("device unavailable"), http.StatusBadRequest, session.CmdStartRecording},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &stubSession{err: tt.err}
			h := newTestStatusServer(t, sess, "")

			rec := serve(h, http.MethodPost, tt.target)
			assert.Equal(t, tt.wantCode, rec.Code)
			require.Len(t, sess.cmds, 1)
			assert.Equal(t, tt.wantCmd, sess.cmds[0].Type)
		})
	}
}

func TestEventsRoute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	journal, err := eventlog.NewLogger(path, "S1")
	require.NoError(t, err)
	require.NoError(t, journal.LogRole("unassigned", "primary", 2))
	require.NoError(t, journal.LogRecording(eventlog.RecordingStarted, "default"))
	require.NoError(t, journal.Close())

	h := newTestStatusServer(t, &stubSession{}, path)

	rec := serve(h, http.MethodGet, "/api/events?filter=role")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []eventlog.Event `json:"entries"`
		HasMore bool             `json:"has_more"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, eventlog.RoleChanged, body.Entries[0].Type)
	assert.False(t, body.HasMore)

	for _, target := range []string{"/api/events?limit=0", "/api/events?limit=501", "/api/events?offset=-1", "/api/events?filter=silence"} {
		assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, target).Code, target)
	}
}

func TestEventsRouteWithoutJournal(t *testing.T) {
	h := newTestStatusServer(t, &stubSession{}, "")
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/events").Code)
}
