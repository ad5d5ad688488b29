package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookRecorder struct {
	mu       sync.Mutex
	payloads []WebhookPayload
}

func (r *webhookRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var p WebhookPayload
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&p))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (r *webhookRecorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.payloads {
		out = append(out, p.Event)
	}
	return out
}

var sess = types.Session{ID: "s-1", MeetingID: "m-1"}

func TestRaiseOnceUntilCleared(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	n := NewNotifier(srv.URL, srv.Client(), sess)
	assert.True(t, n.Raise(AlertCoordinationUnavailable, types.ChannelCoordination, 5, "gave up"))
	assert.False(t, n.Raise(AlertCoordinationUnavailable, types.ChannelCoordination, 5, "gave up"))
	n.Wait()
	assert.True(t, n.Raised(AlertCoordinationUnavailable))

	assert.True(t, n.Clear(AlertCoordinationUnavailable))
	assert.False(t, n.Clear(AlertCoordinationUnavailable))
	n.Wait()

	assert.Equal(t, []string{"coordination_unavailable", "coordination_restored"}, rec.events())

	rec.mu.Lock()
	first := rec.payloads[0]
	rec.mu.Unlock()
	assert.Equal(t, "s-1", first.SessionID)
	assert.Equal(t, "m-1", first.MeetingID)
	assert.Equal(t, "coordination", first.Channel)
	assert.Equal(t, 5, first.Attempts)
	assert.NotEmpty(t, first.Timestamp)
}

func TestClearWithoutRecoveryEvent(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	n := NewNotifier(srv.URL, srv.Client(), sess)
	n.Raise(AlertCaptureFailed, "", 0, "permission denied")
	n.Clear(AlertCaptureFailed)
	n.Wait()

	assert.Equal(t, []string{"capture_failed"}, rec.events())
}

func TestUnconfiguredWebhookTracksState(t *testing.T) {
	n := NewNotifier("", nil, sess)
	assert.True(t, n.Raise(AlertMeetingLost, types.ChannelMeeting, 5, ""))
	assert.True(t, n.Raised(AlertMeetingLost))
	n.Wait()
}

func TestSendTestWebhook(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	require.NoError(t, SendTestWebhook(context.Background(), srv.URL, "m-1"))
	assert.Equal(t, []string{"test"}, rec.events())

	assert.Error(t, SendTestWebhook(context.Background(), "", "m-1"))
}

func TestWebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := sendWebhook(context.Background(), srv.Client(), srv.URL, &WebhookPayload{Event: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
