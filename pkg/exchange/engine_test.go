package exchange

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/konsulko/sciproto/pkg/message"
	"github.com/konsulko/sciproto/pkg/transport"
)

// mockAdapter is an in-memory transport for driving the engine directly.
// The onSend hook sees every outbound frame and may inject replies via
// deliver (which runs them on a separate goroutine, like a real transport).
type mockAdapter struct {
	mu      sync.Mutex
	handler transport.Handler
	onSend  func(frame []byte) error
	txDone  atomic.Int32
}

func (m *mockAdapter) Send(data []byte) error {
	m.mu.Lock()
	onSend := m.onSend
	m.mu.Unlock()

	if onSend == nil {
		return nil
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	return onSend(frame)
}

func (m *mockAdapter) SetHandler(h transport.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *mockAdapter) TxDone() {
	m.txDone.Add(1)
}

func (m *mockAdapter) deliver(frame []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(frame)
	}
}

// echoAdapter replies to every request with an ACK header echoing the
// request's sequence id, padded to the caller-chosen reply length.
func echoAdapter(t *testing.T, replyLen int, body []byte) *mockAdapter {
	t.Helper()
	m := &mockAdapter{}
	m.onSend = func(frame []byte) error {
		var hdr message.Header
		if err := hdr.Decode(frame); err != nil {
			t.Errorf("controller received bad frame: %v", err)
			return nil
		}
		reply := make([]byte, replyLen)
		resp := message.Header{
			Type:  hdr.Type,
			Host:  0, // controller host
			Seq:   hdr.Seq,
			Flags: message.FlagRespGenericAck,
		}
		resp.EncodeTo(reply)
		copy(reply[message.HeaderSize:], body)
		go m.deliver(reply)
		return nil
	}
	return m
}

func newTestEngine(t *testing.T, adapter transport.Adapter, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(adapter, cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestNewEngineConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		adapter transport.Adapter
		cfg     Config
		wantErr error
	}{
		{"Nil adapter", nil, Config{}, ErrNoAdapter},
		{"Too many slots", &mockAdapter{}, Config{MaxSlots: 256}, ErrTooManySlots},
		{"Message size below header", &mockAdapter{}, Config{MaxMessageSize: message.HeaderSize - 1}, ErrSmallMessageSize},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEngine(tc.adapter, tc.cfg)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("NewEngine() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestExecuteRoundTrip(t *testing.T) {
	// Exercise every payload size from empty up to a full message.
	cfg := Config{MaxSlots: 4, MaxMessageSize: 64, ResponseTimeout: time.Second}

	for size := 0; size <= cfg.MaxMessageSize-message.HeaderSize; size++ {
		body := make([]byte, size)
		for i := range body {
			body[i] = byte(i ^ size)
		}

		replyLen := message.HeaderSize + size
		m := echoAdapter(t, replyLen, body)
		e := newTestEngine(t, m, cfg)

		reply, err := e.Execute(message.TypeVersion, 0, nil, replyLen)
		if err != nil {
			t.Fatalf("Execute(reply %d bytes) error = %v", replyLen, err)
		}
		if len(reply) != replyLen {
			t.Fatalf("Execute() reply length = %d, want %d", len(reply), replyLen)
		}
		if !bytes.Equal(reply[message.HeaderSize:], body) {
			t.Errorf("Execute() reply body mismatch at size %d", size)
		}
		if got := e.Pending(); got != 0 {
			t.Errorf("Pending() = %d after exchange, want 0", got)
		}
	}
}

func TestExecuteEchoesAssignedSequence(t *testing.T) {
	var gotSeqs sync.Map

	m := &mockAdapter{}
	m.onSend = func(frame []byte) error {
		var hdr message.Header
		if err := hdr.Decode(frame); err != nil {
			return err
		}
		gotSeqs.Store(hdr.Seq, true)
		reply := make([]byte, message.HeaderSize)
		resp := message.Header{Type: hdr.Type, Seq: hdr.Seq, Flags: message.FlagRespGenericAck}
		resp.EncodeTo(reply)
		go m.deliver(reply)
		return nil
	}

	e := newTestEngine(t, m, Config{MaxSlots: 8, ResponseTimeout: time.Second})

	var wg sync.WaitGroup
	errCh := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := e.Execute(message.TypeVersion, 0, nil, message.HeaderSize)
			if err != nil {
				errCh <- err
				return
			}
			var hdr message.Header
			if err := hdr.Decode(reply); err != nil {
				errCh <- err
				return
			}
			if _, ok := gotSeqs.Load(hdr.Seq); !ok {
				t.Errorf("reply seq %d was never assigned", hdr.Seq)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("Execute() error = %v", err)
	}

	if got := e.Pending(); got != 0 {
		t.Errorf("Pending() = %d after all exchanges, want 0", got)
	}
}

func TestExecuteTimeoutReclaimsSlot(t *testing.T) {
	// A transport that never delivers anything.
	silent := &mockAdapter{}
	cfg := Config{MaxSlots: 2, ResponseTimeout: 30 * time.Millisecond}
	e := newTestEngine(t, silent, cfg)

	start := time.Now()
	_, err := e.Execute(message.TypeVersion, 0, nil, message.HeaderSize)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}
	if elapsed < cfg.ResponseTimeout {
		t.Errorf("Execute() returned after %v, before the %v response window", elapsed, cfg.ResponseTimeout)
	}
	if elapsed > 10*cfg.ResponseTimeout {
		t.Errorf("Execute() took %v, far beyond the %v response window", elapsed, cfg.ResponseTimeout)
	}
	if got := e.Pending(); got != 0 {
		t.Fatalf("Pending() = %d after timeout, want 0", got)
	}

	// The slot must be reusable: swap in an echoing send hook.
	silent.mu.Lock()
	silent.onSend = func(frame []byte) error {
		var hdr message.Header
		if err := hdr.Decode(frame); err != nil {
			return err
		}
		reply := make([]byte, message.HeaderSize)
		resp := message.Header{Type: hdr.Type, Seq: hdr.Seq, Flags: message.FlagRespGenericAck}
		resp.EncodeTo(reply)
		go silent.deliver(reply)
		return nil
	}
	silent.mu.Unlock()

	if _, err := e.Execute(message.TypeVersion, 0, nil, message.HeaderSize); err != nil {
		t.Fatalf("Execute() after timeout error = %v", err)
	}
}

func TestExecuteRangeErrors(t *testing.T) {
	e := newTestEngine(t, &mockAdapter{}, Config{MaxMessageSize: 16})

	tests := []struct {
		name     string
		payload  []byte
		replyLen int
	}{
		{"Oversized request", make([]byte, 9), message.HeaderSize},
		{"Oversized reply", nil, 17},
		{"Reply below header size", nil, message.HeaderSize - 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Execute(message.TypeVersion, 0, tc.payload, tc.replyLen)
			if !errors.Is(err, ErrRange) {
				t.Errorf("Execute() error = %v, want ErrRange", err)
			}
		})
	}

	if got := e.Pending(); got != 0 {
		t.Errorf("Pending() = %d after rejected calls, want 0", got)
	}
}

func TestTransportErrorReclaimsSlot(t *testing.T) {
	sendErr := errors.New("wire fell out")
	m := &mockAdapter{onSend: func([]byte) error { return sendErr }}
	e := newTestEngine(t, m, Config{MaxSlots: 2, ResponseTimeout: 20 * time.Millisecond})

	_, err := e.Execute(message.TypeVersion, 0, nil, message.HeaderSize)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Execute() error = %v, want ErrTransport", err)
	}
	if got := e.Pending(); got != 0 {
		t.Errorf("Pending() = %d after send failure, want 0", got)
	}
}

func TestConcurrencyNeverExceedsMaxSlots(t *testing.T) {
	const maxSlots = 4

	var inFlight, peak atomic.Int32
	m := &mockAdapter{}
	m.onSend = func(frame []byte) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		var hdr message.Header
		if err := hdr.Decode(frame); err != nil {
			return err
		}
		go func() {
			time.Sleep(time.Millisecond)
			reply := make([]byte, message.HeaderSize)
			resp := message.Header{Type: hdr.Type, Seq: hdr.Seq, Flags: message.FlagRespGenericAck}
			resp.EncodeTo(reply)
			inFlight.Add(-1)
			m.deliver(reply)
		}()
		return nil
	}

	e := newTestEngine(t, m, Config{MaxSlots: maxSlots, ResponseTimeout: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Execute(message.TypeVersion, 0, nil, message.HeaderSize); err != nil {
				t.Errorf("Execute() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > maxSlots {
		t.Errorf("peak in-flight exchanges = %d, want <= %d", p, maxSlots)
	}
	if got := e.Pending(); got != 0 {
		t.Errorf("Pending() = %d after all exchanges, want 0", got)
	}
}

func TestSaturationBlocksUntilSlotFrees(t *testing.T) {
	const maxSlots = 2
	cfg := Config{MaxSlots: maxSlots, ResponseTimeout: 50 * time.Millisecond}
	silent := &mockAdapter{}
	e := newTestEngine(t, silent, cfg)

	var wg sync.WaitGroup
	for i := 0; i < maxSlots; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Execute(message.TypeVersion, 0, nil, message.HeaderSize)
		}()
	}

	// Let the first wave claim every slot, then issue one more.
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	_, err := e.Execute(message.TypeVersion, 0, nil, message.HeaderSize)
	waited := time.Since(start)
	wg.Wait()

	// The extra call had to wait for one of the first wave to time out
	// before it could even be admitted.
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}
	if waited < cfg.ResponseTimeout {
		t.Errorf("saturated Execute() finished in %v, admitted before any slot could free", waited)
	}
	if got := e.Pending(); got != 0 {
		t.Errorf("Pending() = %d after saturation drained, want 0", got)
	}
}

func TestAdmissionGateBusyTimeout(t *testing.T) {
	cfg := Config{MaxSlots: 1, ResponseTimeout: 10 * time.Millisecond}
	e := newTestEngine(t, &mockAdapter{}, cfg)

	// Hold the only slot so the gate can never be acquired.
	s, err := e.getSlot(message.TypeVersion, 0, nil, message.HeaderSize)
	if err != nil {
		t.Fatalf("getSlot() error = %v", err)
	}
	defer e.putSlot(s)

	start := time.Now()
	_, err = e.Execute(message.TypeVersion, 0, nil, message.HeaderSize)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrBusyTimeout) {
		t.Fatalf("Execute() error = %v, want ErrBusyTimeout", err)
	}
	if want := time.Duration(admissionWaitFactor) * cfg.ResponseTimeout; elapsed < want {
		t.Errorf("Execute() gave up after %v, before the %v admission window", elapsed, want)
	}
}

func TestUnexpectedArrivalIsDiscarded(t *testing.T) {
	m := &mockAdapter{}
	e := newTestEngine(t, m, Config{MaxSlots: 4})

	// No slot is allocated; every sequence id is unexpected.
	for _, seq := range []uint8{0, 1, 3, 255} {
		hdr := message.Header{Type: message.TypeVersion, Seq: seq, Flags: message.FlagRespGenericAck}
		m.deliver(hdr.Encode())
	}

	// Garbage shorter than a header must be dropped too.
	m.deliver([]byte{0x01, 0x02})
	m.deliver(nil)

	if got := e.Pending(); got != 0 {
		t.Errorf("Pending() = %d after spurious arrivals, want 0", got)
	}
}

func TestDuplicateReplyCannotRewriteBuffer(t *testing.T) {
	// A peer (or a duplicating link) may deliver the same reply more
	// than once while the slot's table bit is still set. Only the first
	// arrival may touch the slot buffer; the caller reads the reply
	// without the table lock once signalled, so a second copy would race
	// that read. Deliver a duplicate with a different body: the original
	// body must always win.
	want := []byte{0x11, 0x22, 0x33, 0x44}
	poison := []byte{0xEE, 0xEE, 0xEE, 0xEE}

	m := &mockAdapter{}
	m.onSend = func(frame []byte) error {
		var hdr message.Header
		if err := hdr.Decode(frame); err != nil {
			return err
		}
		resp := message.Header{Type: hdr.Type, Seq: hdr.Seq, Flags: message.FlagRespGenericAck}

		reply := make([]byte, message.HeaderSize+len(want))
		resp.EncodeTo(reply)
		copy(reply[message.HeaderSize:], want)

		dup := make([]byte, message.HeaderSize+len(poison))
		resp.EncodeTo(dup)
		copy(dup[message.HeaderSize:], poison)

		// Both frames land before the caller can read the reply out;
		// only the latch keeps the second copy from winning.
		m.deliver(reply)
		m.deliver(dup)
		return nil
	}

	e := newTestEngine(t, m, Config{MaxSlots: 2, ResponseTimeout: time.Second})

	for i := 0; i < 8; i++ {
		reply, err := e.Execute(message.TypeVersion, 0, nil, message.HeaderSize+len(want))
		if err != nil {
			t.Fatalf("Execute() #%d error = %v", i, err)
		}
		if !bytes.Equal(reply[message.HeaderSize:], want) {
			t.Fatalf("Execute() #%d body = %x, duplicate overwrote the reply", i, reply[message.HeaderSize:])
		}
	}

	if got := e.Pending(); got != 0 {
		t.Errorf("Pending() = %d after duplicated replies, want 0", got)
	}
}

func TestArrivalLengthValidation(t *testing.T) {
	tests := []struct {
		name string
		// mangle turns a valid reply into the delivered frame.
		mangle   func(reply []byte) []byte
		accepted bool
	}{
		{
			name:     "Exact expected length",
			mangle:   func(r []byte) []byte { return r },
			accepted: true,
		},
		{
			name:     "Longer than expected",
			mangle:   func(r []byte) []byte { return append(r, 0xAA, 0xBB) },
			accepted: true,
		},
		{
			name:     "One byte short",
			mangle:   func(r []byte) []byte { return r[:len(r)-1] },
			accepted: false,
		},
		{
			name: "Beyond max message size",
			mangle: func(r []byte) []byte {
				return append(r, make([]byte, 256)...)
			},
			accepted: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := &mockAdapter{}
			m.onSend = func(frame []byte) error {
				var hdr message.Header
				if err := hdr.Decode(frame); err != nil {
					return err
				}
				reply := make([]byte, message.HeaderSize+4)
				resp := message.Header{Type: hdr.Type, Seq: hdr.Seq, Flags: message.FlagRespGenericAck}
				resp.EncodeTo(reply)
				go m.deliver(tc.mangle(reply))
				return nil
			}

			e := newTestEngine(t, m, Config{MaxSlots: 2, ResponseTimeout: 30 * time.Millisecond})

			_, err := e.Execute(message.TypeVersion, 0, nil, message.HeaderSize+4)
			if tc.accepted && err != nil {
				t.Errorf("Execute() error = %v, want accepted reply", err)
			}
			if !tc.accepted && !errors.Is(err, ErrTimeout) {
				t.Errorf("Execute() error = %v, want ErrTimeout (reply discarded)", err)
			}
		})
	}
}

func TestDoubleReleaseDoesNotInflateGate(t *testing.T) {
	const maxSlots = 2
	cfg := Config{MaxSlots: maxSlots, ResponseTimeout: 10 * time.Millisecond}
	e := newTestEngine(t, &mockAdapter{}, cfg)

	s, err := e.getSlot(message.TypeVersion, 0, nil, message.HeaderSize)
	if err != nil {
		t.Fatalf("getSlot() error = %v", err)
	}
	e.putSlot(s)
	e.putSlot(s) // contract violation; must be a guarded no-op

	// If the second release incremented the gate, maxSlots+1 slots could
	// now be claimed. Claim the true capacity, then require the next
	// claim to fail at the admission gate.
	held := make([]*slot, 0, maxSlots)
	for i := 0; i < maxSlots; i++ {
		s, err := e.getSlot(message.TypeVersion, 0, nil, message.HeaderSize)
		if err != nil {
			t.Fatalf("getSlot() #%d error = %v", i, err)
		}
		held = append(held, s)
	}

	if _, err := e.getSlot(message.TypeVersion, 0, nil, message.HeaderSize); !errors.Is(err, ErrBusyTimeout) {
		t.Errorf("getSlot() beyond capacity error = %v, want ErrBusyTimeout", err)
	}

	for _, s := range held {
		e.putSlot(s)
	}
}

func TestSendFireAndForget(t *testing.T) {
	var sent atomic.Int32
	m := &mockAdapter{}
	m.onSend = func(frame []byte) error {
		var hdr message.Header
		if err := hdr.Decode(frame); err != nil {
			return err
		}
		if hdr.Flags != message.FlagReqGenericNoResponse {
			t.Errorf("fire-and-forget flags = %#x, want none", hdr.Flags)
		}
		sent.Add(1)
		return nil
	}

	e := newTestEngine(t, m, Config{MaxSlots: 1, ResponseTimeout: time.Second})

	start := time.Now()
	if err := e.Send(message.TypeSetDeviceState, message.FlagReqGenericNoResponse, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Send() blocked for %v; fire-and-forget must not wait", elapsed)
	}
	if sent.Load() != 1 {
		t.Errorf("adapter saw %d frames, want 1", sent.Load())
	}
	if got := e.Pending(); got != 0 {
		t.Errorf("Pending() = %d after Send, want 0", got)
	}

	// The single slot must be immediately reusable.
	if err := e.Send(message.TypeSetDeviceState, message.FlagReqGenericNoResponse, nil); err != nil {
		t.Fatalf("second Send() error = %v", err)
	}
	if m.txDone.Load() != 2 {
		t.Errorf("TxDone called %d times, want 2", m.txDone.Load())
	}
}

func TestExecuteAfterClose(t *testing.T) {
	e := newTestEngine(t, &mockAdapter{}, Config{})
	e.Close()

	if _, err := e.Execute(message.TypeVersion, 0, nil, message.HeaderSize); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute() error = %v, want ErrClosed", err)
	}
	if err := e.Send(message.TypeVersion, 0, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() error = %v, want ErrClosed", err)
	}
}
