package sci

import "errors"

// Errors returned by the sci package.
var (
	// ErrNack is returned when the controller refuses a request.
	ErrNack = errors.New("sci: request not acknowledged")

	// ErrShortReply is returned when a response payload is too short to
	// decode.
	ErrShortReply = errors.New("sci: reply shorter than expected")

	// ErrNoExecutor is returned when a client is created without an
	// executor.
	ErrNoExecutor = errors.New("sci: no executor configured")
)
