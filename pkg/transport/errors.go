package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed
	// transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNoHandler is returned when a transport is started without a
	// message handler installed.
	ErrNoHandler = errors.New("transport: no message handler configured")

	// ErrAlreadyStarted is returned when Start is called on a running
	// transport.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrNoRemote is returned when sending without a remote address
	// configured.
	ErrNoRemote = errors.New("transport: no remote address")

	// ErrMessageTooLarge is returned when a frame exceeds the maximum
	// size the transport will carry.
	ErrMessageTooLarge = errors.New("transport: message too large")

	// ErrShortKey is returned when a secure transport is configured with
	// an empty pre-shared key.
	ErrShortKey = errors.New("transport: pre-shared key too short")
)
