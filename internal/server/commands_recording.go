package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/huddlehq/huddle-recorder/internal/session"
	"github.com/huddlehq/huddle-recorder/internal/types"
)

var errUnknownCommand = errors.New("unknown command")

// runSessionCommand executes cmd on the session loop. Starting capture may
// wait for the input device, so the reader goroutine never blocks on it.
func (h *CommandHandler) runSessionCommand(wsCmd WSCommand, send chan<- any, cmd session.Command) {
	HandleActionAsync(wsCmd, send, func(ctx context.Context) (any, error) {
		if err := h.session.Do(ctx, cmd); err != nil {
			slog.Warn("command failed", "command", wsCmd.Type, "error", err)
			return nil, err
		}
		slog.Info("command executed", "command", wsCmd.Type)
		return nil, nil
	})
}

// handleRefreshParticipants processes a participants/refresh command.
func (h *CommandHandler) handleRefreshParticipants(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
		if err := h.session.Do(ctx, session.Command{Type: session.CmdRefreshParticipants}); err != nil {
			return nil, err
		}
		return h.session.Status().Participants, nil
	})
}

// handleReconnect processes a connection/reconnect command.
func (h *CommandHandler) handleReconnect(cmd WSCommand, send chan<- any) {
	var req ReconnectRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	slog.Info("connection/reconnect: reconnecting", "channel", req.Channel)
	h.runSessionCommand(cmd, send, session.Command{
		Type:    session.CmdReconnect,
		Channel: types.ChannelName(req.Channel),
	})
}
