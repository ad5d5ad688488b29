package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/huddlehq/huddle-recorder/internal/config"
	"github.com/huddlehq/huddle-recorder/internal/session"
	"github.com/huddlehq/huddle-recorder/internal/types"
)

// DefaultLogEntries is the number of journal entries returned when no limit is given.
const DefaultLogEntries = 50

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Session is the running session as seen by the UI bridge.
// *session.Controller satisfies it.
type Session interface {
	Do(ctx context.Context, cmd session.Command) error
	Status() types.StatusResponse
	Subscribe() (<-chan types.Event, func())
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg         *config.Config
	session     Session
	journalPath string
}

// NewCommandHandler creates a new command handler. journalPath may be empty
// when the event journal is disabled.
func NewCommandHandler(cfg *config.Config, sess Session, journalPath string) *CommandHandler {
	return &CommandHandler{
		cfg:         cfg,
		session:     sess,
		journalPath: journalPath,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "recording/start").
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "recording":
		h.handleRecording(action, cmd, send)
	case "coordination":
		h.handleCoordination(action, cmd, send)
	case "participants":
		h.handleParticipants(action, cmd, send)
	case "connection":
		h.handleConnection(action, cmd, send)
	case "audio":
		h.handleAudio(action, cmd, send)
	case "archive":
		h.handleArchive(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "status":
		h.handleStatus(action, cmd, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd, errUnknownCommand)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleRecording routes recording/* commands
func (h *CommandHandler) handleRecording(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		h.runSessionCommand(cmd, send, session.Command{Type: session.CmdStartRecording})
	case "stop":
		h.runSessionCommand(cmd, send, session.Command{Type: session.CmdStopRecording})
	default:
		h.unknownAction(cmd, send)
	}
}

// handleCoordination routes coordination/* commands
func (h *CommandHandler) handleCoordination(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "request":
		h.runSessionCommand(cmd, send, session.Command{Type: session.CmdRequestCoordination})
	default:
		h.unknownAction(cmd, send)
	}
}

// handleParticipants routes participants/* commands
func (h *CommandHandler) handleParticipants(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "refresh":
		h.handleRefreshParticipants(cmd, send)
	case "get":
		SendSuccess(send, cmd, h.session.Status().Participants)
	default:
		h.unknownAction(cmd, send)
	}
}

// handleConnection routes connection/* commands
func (h *CommandHandler) handleConnection(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "reconnect":
		h.handleReconnect(cmd, send)
	default:
		h.unknownAction(cmd, send)
	}
}

// handleAudio routes audio/* commands
func (h *CommandHandler) handleAudio(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleAudioUpdate(cmd, send)
	case "devices":
		h.handleAudioDevices(cmd, send)
	default:
		h.unknownAction(cmd, send)
	}
}

// handleArchive routes archive/* commands
func (h *CommandHandler) handleArchive(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "test":
		h.handleArchiveTest(cmd, send)
	default:
		h.unknownAction(cmd, send)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "test":
			h.handleWebhookTest(cmd, send)
		default:
			h.unknownAction(cmd, send)
		}
	default:
		h.unknownAction(cmd, send)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		h.handleEventsGet(cmd, send)
	default:
		h.unknownAction(cmd, send)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		h.unknownAction(cmd, send)
	}
}

func (h *CommandHandler) unknownAction(cmd WSCommand, send chan<- any) {
	slog.Warn("unknown WebSocket command", "type", cmd.Type)
	SendError(send, cmd, errUnknownCommand)
}
