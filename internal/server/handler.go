// Package server bridges a running session to a local UI over WebSocket:
// session events are pushed to the client and client commands are validated
// and executed on the session loop.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/huddlehq/huddle-recorder/internal/types"
)

// actionTimeout bounds an asynchronous command. It is longer than the
// session's own command timeout so the session reports its error first.
const actionTimeout = 45 * time.Second

var errInternal = errors.New("internal error")

// validate is the shared validator instance for request validation.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Field names in messages follow the JSON the client sent.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// CommandResult answers one client command. ID echoes the command's id so
// clients can match results to requests.
type CommandResult struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// DecodeAndValidate decodes the command payload into data and validates it.
// A command without data decodes as an empty object. On failure the error
// result has already been sent.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	payload := cmd.Data
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, data); err != nil {
		SendError(send, cmd, fmt.Errorf("invalid JSON: %w", err))
		return false
	}
	if err := validate.Struct(data); err != nil {
		SendValidationErrors(send, cmd, err)
		return false
	}
	return true
}

// HandleCommand decodes, validates, and processes a command, then answers it.
// process runs on the reader goroutine and must not wait on the session
// loop; use HandleActionAsync for that.
func HandleCommand[T any](cmd WSCommand, send chan<- any, process func(*T) error) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}
	if err := process(&data); err != nil {
		SendError(send, cmd, err)
		return
	}
	SendSuccess(send, cmd, nil)
}

// HandleActionAsync runs action on its own goroutine with a bounded context
// and answers the command with its outcome. A panicking action is answered
// with an internal error.
func HandleActionAsync(cmd WSCommand, send chan<- any, action func(ctx context.Context) (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				SendError(send, cmd, errInternal)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		result, err := action(ctx)
		if err != nil {
			SendError(send, cmd, err)
			return
		}
		SendSuccess(send, cmd, result)
	}()
}

// SendSuccess answers cmd successfully. data may be nil.
func SendSuccess(send chan<- any, cmd WSCommand, data any) {
	trySend(send, cmd.Type, CommandResult{
		Type:    cmd.Type + "_result",
		ID:      cmd.ID,
		Success: true,
		Data:    data,
	})
}

// SendError answers cmd with err.
func SendError(send chan<- any, cmd WSCommand, err error) {
	trySend(send, cmd.Type, CommandResult{
		Type:  cmd.Type + "_result",
		ID:    cmd.ID,
		Error: err.Error(),
	})
}

// SendValidationErrors answers cmd with per-field validation failures.
func SendValidationErrors(send chan<- any, cmd WSCommand, err error) {
	verr := types.NewValidationError()

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, e := range fieldErrs {
			verr.Add(e.Field(), formatValidationMessage(e), e.Value())
		}
	} else {
		verr.Add("", err.Error(), nil)
	}

	trySend(send, cmd.Type, CommandResult{
		Type:  cmd.Type + "_result",
		ID:    cmd.ID,
		Error: verr,
	})
}

// trySend queues msg for the writer. A full buffer drops it: a client that
// stopped reading will be disconnected by the write deadline anyway.
func trySend(send chan<- any, cmdType string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("dropped command result, client send buffer full", "type", cmdType)
	}
}

// formatValidationMessage renders a validator failure for the client.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(e.Param(), " ", ", ")
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
