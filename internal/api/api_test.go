package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSegment() *Segment {
	return &Segment{
		MeetingID: "m-1",
		SessionID: "S2",
		Role:      types.RoleBackup,
		Sequence:  3,
		StartedAt: time.UnixMilli(1700000000123),
		Duration:  5 * time.Second,
	}
}

func TestUploadSegmentSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, uploadPath, r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get(CSRFHeader))
		assert.Equal(t, "sessionid=abc", r.Header.Get("Cookie"))
		assert.Equal(t, "huddle-recorder/v1.0.0", r.Header.Get("User-Agent"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "m-1", r.FormValue("meeting_id"))
		assert.Equal(t, "S2", r.FormValue("session_id"))
		assert.Equal(t, "backup", r.FormValue("recorder_role"))

		f, hdr, err := r.FormFile("audio_file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "recording_1700000000123.wav", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFFdata", string(data))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"recording_id": 17, "status": "uploaded", "queued_for_processing": true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), Credentials{
		CSRFToken: "tok", SessionCookie: "sessionid=abc", UserAgent: "huddle-recorder/v1.0.0",
	})
	ack, err := c.UploadSegment(context.Background(), testSegment(), strings.NewReader("RIFFdata"))
	require.NoError(t, err)
	assert.Equal(t, types.RecordingID("17"), ack.RecordingID)
	assert.Equal(t, "uploaded", ack.Status)
	assert.True(t, ack.QueuedForProcessing)
}

func TestUploadSegmentNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Only the meeting admin can record"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), Credentials{})
	_, err := c.UploadSegment(context.Background(), testSegment(), strings.NewReader("x"))

	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusForbidden, uerr.StatusCode)
	assert.Equal(t, "Only the meeting admin can record", uerr.Message)
}

func TestUploadSegmentTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, nil, Credentials{})
	_, err := c.UploadSegment(context.Background(), testSegment(), strings.NewReader("x"))

	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Zero(t, uerr.StatusCode)
	assert.Error(t, errors.Unwrap(uerr))
}

func TestMeetingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/meeting/m-1/status/", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"meeting_id": "m-1", "is_active": true, "participant_count": 2, "recording_participants": 1,
			"participants": [
				{"session_id": "S1", "is_recording": true, "last_seen": "2026-01-01T00:00:00Z", "audio_quality_score": 0.7},
				{"session_id": "S2", "is_recording": false, "last_seen": "2026-01-01T00:00:00Z", "audio_quality_score": null}
			]}`))
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL, srv.Client(), Credentials{}).MeetingStatus(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, st.IsActive)
	assert.Equal(t, 2, st.ParticipantCount)
	require.Len(t, st.Participants, 2)
	require.NotNil(t, st.Participants[0].AudioQualityScore)
	assert.InDelta(t, 0.7, *st.Participants[0].AudioQualityScore, 1e-9)
	assert.Nil(t, st.Participants[1].AudioQualityScore)
}

func TestMeetingStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found."}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client(), Credentials{}).MeetingStatus(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "Not found.")
}

func TestChannelURL(t *testing.T) {
	tests := []struct {
		base    string
		channel types.ChannelName
		want    string
	}{
		{"http://localhost:8000", types.ChannelMeeting, "ws://localhost:8000/ws/meeting/m-1/"},
		{"https://meet.example.com/", types.ChannelCoordination, "wss://meet.example.com/ws/coordination/m-1/"},
		{"https://example.com/huddle", types.ChannelMeeting, "wss://example.com/huddle/ws/meeting/m-1/"},
	}
	for _, tt := range tests {
		got, err := ChannelURL(tt.base, tt.channel, "m-1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ChannelURL("ftp://example.com", types.ChannelMeeting, "m-1")
	assert.Error(t, err)
}

func TestCredentialsHeader(t *testing.T) {
	h := Credentials{CSRFToken: "t", UserAgent: "ua"}.Header("https://meet.example.com/")
	assert.Equal(t, "t", h.Get(CSRFHeader))
	assert.Equal(t, "ua", h.Get("User-Agent"))
	assert.Equal(t, "https://meet.example.com", h.Get("Origin"))
	assert.Empty(t, h.Get("Cookie"))
}

func TestTokenSourceUnconfigured(t *testing.T) {
	assert.Nil(t, TokenSource(OAuthConfig{}, http.DefaultClient))
	assert.NotNil(t, NewHTTPClient(OAuthConfig{}, false))
}

func TestNewHTTPClientAddsBearerToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"meeting_id":"m","participants":[]}`))
	}))
	defer apiSrv.Close()

	hc := NewHTTPClient(OAuthConfig{TokenURL: tokenSrv.URL, ClientID: "id", ClientSecret: "secret"}, false)
	_, err := NewClient(apiSrv.URL, hc, Credentials{}).MeetingStatus(context.Background(), "m")
	require.NoError(t, err)
}
