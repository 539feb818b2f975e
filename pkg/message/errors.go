package message

import "errors"

// Errors returned by the message package.
var (
	// ErrShortMessage is returned when a buffer is too short to contain a
	// complete message header.
	ErrShortMessage = errors.New("message: buffer shorter than header")
)
