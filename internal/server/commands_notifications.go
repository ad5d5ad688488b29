package server

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/eventlog"
	"github.com/huddlehq/huddle-recorder/internal/notify"
)

// webhookTestTimeout bounds a notifications/webhook/test delivery.
const webhookTestTimeout = 15 * time.Second

// EventsResult is the data of an events/get response.
type EventsResult struct {
	Path    string           `json:"path"`
	Entries []eventlog.Event `json:"entries"`
	HasMore bool             `json:"has_more"`
}

// handleWebhookTest sends a test payload to the configured webhook.
func (h *CommandHandler) handleWebhookTest(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
		snap := h.cfg.Snapshot()
		if !snap.HasWebhook() {
			return nil, errors.New("webhook URL is not configured")
		}

		ctx, cancel := context.WithTimeout(ctx, webhookTestTimeout)
		defer cancel()

		if err := notify.SendTestWebhook(ctx, snap.WebhookURL, h.session.Status().Session.MeetingID); err != nil {
			slog.Error("test failed", "command", cmd.Type, "error", err)
			return nil, err
		}
		slog.Info("test succeeded", "command", cmd.Type)
		return nil, nil
	})
}

// handleEventsGet returns the newest journal entries, newest first.
func (h *CommandHandler) handleEventsGet(cmd WSCommand, send chan<- any) {
	var req EventsRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	if h.journalPath == "" {
		SendError(send, cmd, errors.New("event log is not configured"))
		return
	}

	limit := cmp.Or(req.Limit, DefaultLogEntries)

	HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
		entries, hasMore, err := eventlog.ReadLast(h.journalPath, limit, req.Offset, eventlog.TypeFilter(req.Filter))
		if err != nil {
			return nil, err
		}
		return EventsResult{Path: h.journalPath, Entries: entries, HasMore: hasMore}, nil
	})
}
