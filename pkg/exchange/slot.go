package exchange

// slot holds the state of one in-flight or idle exchange.
//
// Each slot has a stable identity: its index in the engine's slot array,
// which doubles as the wire sequence identifier. The buffer is shared
// between the transmit and receive paths; the protocol is strictly
// request-then-single-reply, so the reply may overwrite the request in
// place.
//
// Ownership: between allocation and release the allocating caller owns the
// slot. The arrival path gets write access to buf and done only while the
// slot's bit is set in the allocation table, and only under the table lock.
type slot struct {
	// seq is the slot's index and wire sequence identifier.
	seq uint8

	// buf stages the outbound message and receives the reply.
	// Capacity is the engine's MaxMessageSize; never reallocated.
	buf []byte

	// txLen is the length of the staged outbound message.
	txLen int

	// rxLen is the expected reply length, set at allocation time and
	// validated against arrivals.
	rxLen int

	// fulfilled latches once the first accepted reply of the current
	// allocation cycle has been copied in. Guarded by the engine's table
	// lock; duplicate arrivals observe it and are dropped before they can
	// touch buf again.
	fulfilled bool

	// done is the completion signal for the current allocation cycle.
	// Re-armed (replaced) at allocation; signalled at most once by the
	// arrival path via a non-blocking send.
	done chan struct{}
}
