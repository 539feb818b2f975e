// Package transport provides message transports for talking to a TISCI
// system-controller entity.
//
// A transport carries opaque, self-contained message frames in both
// directions. It guarantees neither delivery nor ordering; the exchange
// layer (pkg/exchange) builds its correlation protocol on top of that.
//
// Three adapters are provided:
//
//   - UDP: point-to-point datagrams to a remote controller endpoint
//   - Pipe: an in-memory connected pair for testing, with network
//     condition simulation
//   - Secure: a wrapper that authenticates and encrypts frames over any
//     other adapter using a pre-shared key
package transport

// Handler is called for each received message frame.
// The frame is owned by the handler for the duration of the call only;
// implementations must copy anything they need to retain.
//
// Handlers run on the transport's delivery goroutine and should complete
// quickly, or subsequent deliveries will stall behind them.
type Handler func(data []byte)

// Adapter is a bidirectional message transport.
type Adapter interface {
	// Send transmits one message frame. A nil error means the frame was
	// handed to the underlying medium, not that it was delivered.
	// The adapter must not retain data past the call.
	Send(data []byte) error

	// SetHandler installs the handler invoked for each received frame.
	// It must be called before the adapter starts delivering messages.
	SetHandler(h Handler)
}

// TxDoneNotifier is optionally implemented by adapters whose outbound path
// benefits from being told that the sender is done with the current frame
// and the path may be reused for the next one. It is a liveness hint; an
// adapter that does not need it simply does not implement the interface.
type TxDoneNotifier interface {
	TxDone()
}
