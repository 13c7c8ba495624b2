package transport

import "errors"

var (
	// ErrDisconnected fails calls on a channel whose health FSM has
	// reached Disconnected; the channel must be reconstructed.
	ErrDisconnected = errors.New("transport: channel disconnected")

	// ErrProtocol marks a malformed frame; the channel is abandoned,
	// never reused.
	ErrProtocol = errors.New("transport: protocol error")

	// ErrClosed names a closed transport endpoint. Server and Pool do
	// not return it: Serve returns nil after Stop, and a Pool has no
	// closed state.
	ErrClosed = errors.New("transport: closed")
)
