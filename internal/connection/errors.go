package connection

import (
	"errors"
	"fmt"

	"github.com/huddlehq/huddle-recorder/internal/types"
)

// Connection errors.
var (
	// ErrNotOpen is returned by Send when the channel is not Open. The message is dropped.
	ErrNotOpen = errors.New("channel not open")
	// ErrClosed is returned after the manager has been closed.
	ErrClosed = errors.New("connection manager closed")
	// ErrTimeout is the ConnectError kind for a channel that did not open in time.
	ErrTimeout = errors.New("connect timeout")
	// ErrRefused is the ConnectError kind for a failed handshake.
	ErrRefused = errors.New("connection refused")
	// ErrUnknownChannel is returned for a channel name the manager does not own.
	ErrUnknownChannel = errors.New("unknown channel")
)

// ConnectError reports why Connect did not reach Open. Kind is ErrTimeout or
// ErrRefused; both are retryable and the channel keeps reconnecting.
type ConnectError struct {
	Kind    error
	Channel types.ChannelName
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s channel: %v", e.Channel, e.Kind)
	}
	return fmt.Sprintf("%s channel: %v: %v", e.Channel, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *ConnectError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// HandshakeError is returned by WebSocketDialer when the server answered the
// upgrade request with a non-101 status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }
