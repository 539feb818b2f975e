package exchange

import "errors"

// Errors returned by the exchange package.
var (
	// ErrRange is returned when the requested message or reply size
	// violates the configured limits.
	ErrRange = errors.New("exchange: message size out of range")

	// ErrBusyTimeout is returned when no exchange slot became free within
	// the admission wait window.
	ErrBusyTimeout = errors.New("exchange: no free slot within admission window")

	// ErrTimeout is returned when no valid reply arrived within the
	// response window.
	ErrTimeout = errors.New("exchange: timed out waiting for reply")

	// ErrTransport is returned (wrapped around the adapter's error) when
	// the outbound send failed.
	ErrTransport = errors.New("exchange: transport send failed")

	// ErrClosed is returned when attempting operations on a closed engine.
	ErrClosed = errors.New("exchange: engine closed")

	// ErrNoAdapter is returned when an engine is created without a
	// transport adapter.
	ErrNoAdapter = errors.New("exchange: no transport adapter configured")

	// ErrTooManySlots is returned when MaxSlots does not fit the sequence
	// identifier field of the wire header.
	ErrTooManySlots = errors.New("exchange: MaxSlots exceeds sequence id range")

	// ErrSmallMessageSize is returned when MaxMessageSize cannot hold even
	// a bare message header.
	ErrSmallMessageSize = errors.New("exchange: MaxMessageSize smaller than header")
)
