// Package exchange implements the TISCI transaction layer: a bounded pool
// of request/response exchanges over an unreliable message transport.
//
// A caller thread issues a request with Engine.Execute and blocks until the
// matching reply arrives or the response window elapses. Replies arrive on
// the transport's delivery goroutine, out of call-stack context, and are
// routed back to the exact waiting caller by the sequence identifier echoed
// in the reply header.
//
// The engine holds a fixed pool of exchange slots sized at construction.
// A counting semaphore bounds how many may be in use at once, and a bitmap
// under a short-hold lock records which are. The slot index doubles as the
// wire sequence identifier, so reply correlation is a single table lookup.
// The arrival path never blocks, never allocates, and completes in a
// bounded fixed-size copy.
package exchange

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/pion/logging"
	"golang.org/x/sync/semaphore"

	"github.com/konsulko/sciproto/pkg/message"
	"github.com/konsulko/sciproto/pkg/transport"
)

// Defaults mirror a typical system-controller integration: a small number
// of short messages with a fast firmware turnaround.
const (
	// DefaultHostID is the host identifier stamped into outbound headers.
	DefaultHostID = 2

	// DefaultResponseTimeout is the per-exchange reply window.
	DefaultResponseTimeout = 200 * time.Millisecond

	// DefaultMaxSlots is the number of simultaneously pending exchanges.
	DefaultMaxSlots = 128

	// DefaultMaxMessageSize is the largest message, header included.
	DefaultMaxMessageSize = 64
)

// admissionWaitFactor scales the response timeout into the admission wait
// window. Ideally a caller waits at most one round trip for a slot; be
// conservative and allow five, since every held slot may be sitting in its
// own full response window.
const admissionWaitFactor = 5

// Config configures an exchange Engine. Fields are fixed at construction
// and not runtime-mutable.
type Config struct {
	// HostID identifies this compute entity in outbound headers.
	// Defaults to DefaultHostID.
	HostID uint8

	// ResponseTimeout is how long Execute waits for a reply.
	// Defaults to DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// MaxSlots is the number of simultaneously pending exchanges.
	// Must fit the 8-bit sequence field: MaxSlots < 256.
	// Defaults to DefaultMaxSlots.
	MaxSlots int

	// MaxMessageSize is the largest message, header included, in either
	// direction. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Engine coordinates slot allocation, send, wait, correlation and
// reclamation for one transport connection to a system-controller entity.
type Engine struct {
	cfg     Config
	adapter transport.Adapter
	txDone  transport.TxDoneNotifier // nil if the adapter has no hint
	gate    *semaphore.Weighted
	log     logging.LeveledLogger

	// mu guards the allocation table, slot preparation and teardown.
	// It is only ever held for O(1) work plus a bounded copy, never
	// across a blocking wait or a transport call.
	mu     sync.Mutex
	table  []uint64
	slots  []slot
	closed bool
}

// NewEngine creates an engine over the given transport adapter and
// installs itself as the adapter's message handler.
//
// Configuration defects fail fast here: a pool that cannot be addressed by
// the header's sequence field is a bug in the integration description, not
// a runtime condition.
func NewEngine(adapter transport.Adapter, cfg Config) (*Engine, error) {
	if adapter == nil {
		return nil, ErrNoAdapter
	}

	if cfg.HostID == 0 {
		cfg.HostID = DefaultHostID
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.MaxSlots == 0 {
		cfg.MaxSlots = DefaultMaxSlots
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	// Never allow more slots than hdr.Seq can represent.
	if cfg.MaxSlots < 1 || cfg.MaxSlots >= 1<<8 {
		return nil, ErrTooManySlots
	}
	if cfg.MaxMessageSize < message.HeaderSize {
		return nil, ErrSmallMessageSize
	}

	e := &Engine{
		cfg:     cfg,
		adapter: adapter,
		gate:    semaphore.NewWeighted(int64(cfg.MaxSlots)),
		table:   make([]uint64, (cfg.MaxSlots+63)/64),
		slots:   make([]slot, cfg.MaxSlots),
	}

	if n, ok := adapter.(transport.TxDoneNotifier); ok {
		e.txDone = n
	}

	if cfg.LoggerFactory != nil {
		e.log = cfg.LoggerFactory.NewLogger("exchange")
	}

	// Pre-allocate every slot buffer; nothing on the arrival path
	// allocates after this.
	for i := range e.slots {
		e.slots[i].seq = uint8(i)
		e.slots[i].buf = make([]byte, cfg.MaxMessageSize)
	}

	adapter.SetHandler(e.onArrival)
	return e, nil
}

// Execute performs one synchronous request/response exchange.
//
// The outbound message is the fixed header (stamped with this engine's
// host id and a freshly assigned sequence id) followed by payload.
// replyLen is the exact expected reply length, header included; shorter
// arrivals are discarded as truncated.
//
// Errors: ErrRange for size violations, ErrBusyTimeout when no slot frees
// up in time, ErrTransport (wrapping the cause) when the send fails, and
// ErrTimeout when no valid reply arrives within the response window. The
// slot and its gate credit are always reclaimed before returning; no
// retries are performed at this layer.
func (e *Engine) Execute(msgType uint16, flags uint32, payload []byte, replyLen int) ([]byte, error) {
	s, err := e.getSlot(msgType, flags, payload, replyLen)
	if err != nil {
		return nil, err
	}

	if err := e.send(s); err != nil {
		e.putSlot(s)
		return nil, err
	}

	timer := time.NewTimer(e.cfg.ResponseTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		// The arrival path finished its copy before signalling (the
		// channel receive orders that copy before this read), and the
		// fulfilled latch keeps any duplicate arrival from rewriting
		// the buffer while it is read here.
		reply := make([]byte, s.rxLen)
		copy(reply, s.buf[:s.rxLen])
		e.putSlot(s)
		return reply, nil
	case <-timer.C:
		if e.log != nil {
			e.log.Errorf("no reply for seq %d (type 0x%04x) within %v",
				s.seq, msgType, e.cfg.ResponseTimeout)
		}
		// A reply racing this release is dropped by the arrival
		// path's bit check once the slot is reclaimed.
		e.putSlot(s)
		return nil, ErrTimeout
	}
}

// Send performs a fire-and-forget request: the message goes out with a
// valid sequence id, but no reply is awaited and none is correlated. The
// slot is reclaimed as soon as the frame is handed to the transport.
func (e *Engine) Send(msgType uint16, flags uint32, payload []byte) error {
	s, err := e.getSlot(msgType, flags, payload, message.HeaderSize)
	if err != nil {
		return err
	}

	err = e.send(s)
	e.putSlot(s)
	return err
}

// send hands the staged message to the adapter and kicks its outbound
// path. The transport queues by itself; the hint lets it pipeline the next
// frame while the controller processes this one.
func (e *Engine) send(s *slot) error {
	if err := e.adapter.Send(s.buf[:s.txLen]); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if e.txDone != nil {
		e.txDone.TxDone()
	}
	return nil
}

// getSlot allocates and prepares one exchange slot.
//
// It blocks on the admission gate for up to admissionWaitFactor response
// windows, then claims the lowest free slot. Gate capacity equals table
// size, so a successful acquire guarantees a clear bit exists. All slot
// preparation happens under the table lock so the arrival path can never
// observe a half-prepared allocated slot.
func (e *Engine) getSlot(msgType uint16, flags uint32, payload []byte, replyLen int) (*slot, error) {
	txLen := message.HeaderSize + len(payload)
	if txLen > e.cfg.MaxMessageSize || replyLen > e.cfg.MaxMessageSize {
		return nil, fmt.Errorf("%w: tx %d, rx %d, max %d", ErrRange, txLen, replyLen, e.cfg.MaxMessageSize)
	}
	if replyLen < message.HeaderSize {
		return nil, fmt.Errorf("%w: rx %d below header size", ErrRange, replyLen)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(admissionWaitFactor)*e.cfg.ResponseTimeout)
	defer cancel()
	if err := e.gate.Acquire(ctx, 1); err != nil {
		return nil, ErrBusyTimeout
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.gate.Release(1)
		return nil, ErrClosed
	}

	idx := e.findFirstClear()
	e.setBit(idx)

	s := &e.slots[idx]
	s.txLen = txLen
	s.rxLen = replyLen
	s.fulfilled = false
	s.done = make(chan struct{}, 1)

	hdr := message.Header{
		Type:  msgType,
		Host:  e.cfg.HostID,
		Seq:   s.seq,
		Flags: flags,
	}
	hdr.EncodeTo(s.buf)
	copy(s.buf[message.HeaderSize:], payload)
	e.mu.Unlock()

	return s, nil
}

// putSlot releases a slot claimed by getSlot and returns its gate credit.
// Must be called exactly once per successful getSlot, on every path. A
// release of an already-released slot is a caller bug; it is logged and
// the gate is left untouched so the credit cannot be double-counted.
func (e *Engine) putSlot(s *slot) {
	idx := int(s.seq)

	e.mu.Lock()
	if !e.testBit(idx) {
		e.mu.Unlock()
		if e.log != nil {
			e.log.Errorf("double release of slot %d", idx)
		}
		return
	}
	e.clearBit(idx)
	e.mu.Unlock()

	e.gate.Release(1)
}

// onArrival routes one inbound message to its waiting exchange.
//
// This runs on the transport's delivery goroutine and must stay cheap: it
// performs validation in cheapest-first order, one bounded copy, and a
// non-blocking signal. Malformed or unexpected traffic is logged and
// dropped, never escalated; a misbehaving peer must not be able to stall
// or crash the delivery path.
func (e *Engine) onArrival(data []byte) {
	var hdr message.Header
	if err := hdr.Decode(data); err != nil {
		if e.log != nil {
			e.log.Warnf("dropping short message (%d bytes)", len(data))
		}
		return
	}

	idx := int(hdr.Seq)

	e.mu.Lock()
	defer e.mu.Unlock()

	// Are we even expecting this? A clear bit means the reply is late,
	// duplicated or spurious: the slot may already belong to someone
	// else, so the table is the only authority.
	if idx >= e.cfg.MaxSlots || !e.testBit(idx) {
		if e.log != nil {
			e.log.Errorf("message for %d is not expected", idx)
		}
		return
	}

	s := &e.slots[idx]

	// Only the first accepted reply of an allocation cycle may write the
	// buffer: once the slot is fulfilled the blocked caller is free to
	// read it without the lock, so a duplicated frame must be dropped
	// here, before the copy.
	if s.fulfilled {
		if e.log != nil {
			e.log.Warnf("duplicate reply for seq %d dropped", idx)
		}
		return
	}

	if len(data) > e.cfg.MaxMessageSize {
		if e.log != nil {
			e.log.Errorf("unable to handle %d byte message (max %d)", len(data), e.cfg.MaxMessageSize)
		}
		return
	}
	if len(data) < s.rxLen {
		if e.log != nil {
			e.log.Errorf("recv %d bytes for seq %d, expected %d", len(data), idx, s.rxLen)
		}
		return
	}

	copy(s.buf[:s.rxLen], data[:s.rxLen])
	s.fulfilled = true

	// Non-blocking: the channel is 1-buffered and armed empty, so the
	// token always fits and the delivery path never stalls.
	select {
	case s.done <- struct{}{}:
	default:
	}
}

// Close shuts the engine down. In-flight exchanges run to completion or
// timeout; subsequent Execute and Send calls fail with ErrClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Pending returns the number of currently allocated exchange slots.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, w := range e.table {
		n += bits.OnesCount64(w)
	}
	return n
}

// findFirstClear returns the lowest clear bit in the allocation table.
// The caller must hold e.mu and have acquired the admission gate, which
// guarantees a clear bit exists. Lowest-first is a debuggability choice;
// any free index would do.
func (e *Engine) findFirstClear() int {
	for w, word := range e.table {
		if word != ^uint64(0) {
			idx := w*64 + bits.TrailingZeros64(^word)
			if idx < e.cfg.MaxSlots {
				return idx
			}
		}
	}
	// Unreachable while the gate invariant holds.
	panic("exchange: allocation table full despite admission gate")
}

func (e *Engine) setBit(idx int)      { e.table[idx/64] |= 1 << (idx % 64) }
func (e *Engine) clearBit(idx int)    { e.table[idx/64] &^= 1 << (idx % 64) }
func (e *Engine) testBit(idx int) bool { return e.table[idx/64]&(1<<(idx%64)) != 0 }
