// Package notify delivers webhook alerts for conditions an operator must act
// on: coordination unavailable, the meeting channel giving up, and capture
// failures.
package notify

import (
	"context"
	"net/http"
	"sync"

	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

// Alert identifies an alert condition.
type Alert string

// Alert conditions. Each is raised at most once until cleared.
const (
	AlertCoordinationUnavailable Alert = "coordination_unavailable"
	AlertMeetingLost             Alert = "meeting_channel_lost"
	AlertCaptureFailed           Alert = "capture_failed"
)

// recoveryEvents maps alerts that have a recovery notification.
var recoveryEvents = map[Alert]string{
	AlertCoordinationUnavailable: "coordination_restored",
	AlertMeetingLost:             "meeting_channel_restored",
}

// Notifier sends alert webhooks for one session.
type Notifier struct {
	webhookURL string
	client     *http.Client
	session    types.Session

	// mu protects raised
	mu     sync.Mutex
	raised map[Alert]bool

	wg sync.WaitGroup
}

// NewNotifier returns a Notifier. An empty webhookURL disables delivery but
// alert state is still tracked.
func NewNotifier(webhookURL string, client *http.Client, sess types.Session) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     client,
		session:    sess,
		raised:     make(map[Alert]bool),
	}
}

// Raise sends the alert unless it is already raised.
// It reports whether a notification was dispatched.
func (n *Notifier) Raise(alert Alert, channel types.ChannelName, attempts int, message string) bool {
	n.mu.Lock()
	if n.raised[alert] {
		n.mu.Unlock()
		return false
	}
	n.raised[alert] = true
	n.mu.Unlock()

	n.dispatch(&WebhookPayload{
		Event:    string(alert),
		Channel:  string(channel),
		Attempts: attempts,
		Message:  message,
	}, string(alert))
	return true
}

// Clear resets a raised alert, sending its recovery notification if it has one.
// It reports whether the alert was raised.
func (n *Notifier) Clear(alert Alert) bool {
	n.mu.Lock()
	wasRaised := n.raised[alert]
	delete(n.raised, alert)
	n.mu.Unlock()

	if !wasRaised {
		return false
	}
	if event, ok := recoveryEvents[alert]; ok {
		n.dispatch(&WebhookPayload{Event: event}, event)
	}
	return true
}

// Raised reports whether alert is currently raised.
func (n *Notifier) Raised(alert Alert) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.raised[alert]
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) dispatch(payload *WebhookPayload, notifyType string) {
	if !util.IsConfigured(n.webhookURL) {
		return
	}
	payload.SessionID = n.session.ID
	payload.MeetingID = n.session.MeetingID
	payload.Timestamp = timestampUTC()

	n.wg.Go(func() {
		util.LogNotifyResult(func() error {
			return sendWebhook(context.Background(), n.client, n.webhookURL, payload)
		}, notifyType)
	})
}
