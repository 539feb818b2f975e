package transport

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures network behavior simulation on a Pipe.
// Use this to test protocol behavior under adverse network conditions.
type NetworkCondition struct {
	// DropRate is the probability of dropping a frame (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay to add to each frame.
	DelayMin time.Duration

	// DelayMax is the maximum delay to add to each frame.
	// Actual delay is uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration

	// DuplicateRate is the probability of duplicating a frame (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic frame delivery in a background
	// goroutine. Default: true.
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers queued
	// frames. Default: 1ms.
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe provides bidirectional in-memory frame delivery between two
// endpoints. It wraps pion's test.Bridge and adds network condition
// simulation. Use it for deterministic tests without real network I/O.
type Pipe struct {
	bridge *test.Bridge

	mu          sync.RWMutex
	condition   NetworkCondition
	rng         *rand.Rand
	closed      bool
	autoProcess bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewPipePair creates two connected adapters over a fresh Pipe with
// auto-processing enabled. Frames sent on one adapter arrive at the other.
func NewPipePair() (*PipeAdapter, *PipeAdapter) {
	return NewPipePairWithConfig(DefaultPipeConfig())
}

// NewPipePairWithConfig creates a connected adapter pair with the given
// configuration. With AutoProcess disabled, call Pipe().Process() to
// deliver queued frames manually.
func NewPipePairWithConfig(config PipeConfig) (*PipeAdapter, *PipeAdapter) {
	interval := config.ProcessInterval
	if interval == 0 {
		interval = 1 * time.Millisecond
	}

	p := &Pipe{
		bridge:      test.NewBridge(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess: config.AutoProcess,
		stopCh:      make(chan struct{}),
	}

	if p.autoProcess {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-p.stopCh:
					return
				case <-ticker.C:
					p.bridge.Tick()
				}
			}
		}()
	}

	a0 := &PipeAdapter{pipe: p, conn: p.bridge.GetConn0()}
	a1 := &PipeAdapter{pipe: p, conn: p.bridge.GetConn1()}
	return a0, a1
}

// SetCondition configures network condition simulation.
// The conditions apply to frames in both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Tick delivers one queued frame in each direction (if available).
// Returns the number of frames delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued frames.
// Returns the number of frames delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

func (p *Pipe) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.bridge.GetConn0().Close()
	p.bridge.GetConn1().Close()
}

// PipeAdapter is one endpoint of a Pipe.
type PipeAdapter struct {
	pipe *Pipe
	conn connLike
	wg   sync.WaitGroup

	mu      sync.RWMutex
	handler Handler
	started bool
	closed  bool
}

// connLike is the subset of net.Conn the adapter uses. The bridge
// connections are message-oriented: each Write is delivered as one frame.
type connLike interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// Pipe returns the underlying pipe for configuration and manual frame
// control.
func (a *PipeAdapter) Pipe() *Pipe {
	return a.pipe
}

// SetHandler installs the handler invoked for each received frame.
// Must be called before Start.
func (a *PipeAdapter) SetHandler(h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

// Start begins the read loop for receiving frames.
func (a *PipeAdapter) Start() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	if a.handler == nil {
		a.mu.Unlock()
		return ErrNoHandler
	}
	a.started = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.readLoop()

	return nil
}

// Stop closes this endpoint. The shared pipe (and therefore the peer
// endpoint) is closed along with it.
func (a *PipeAdapter) Stop() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	a.mu.Unlock()

	a.pipe.close()
	a.wg.Wait()

	return nil
}

// Send transmits one frame to the peer endpoint, subject to the pipe's
// network conditions.
func (a *PipeAdapter) Send(data []byte) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return ErrClosed
	}
	a.mu.RUnlock()

	p := a.pipe
	p.mu.RLock()
	cond := p.condition
	rng := p.rng
	p.mu.RUnlock()

	if cond.DropRate > 0 && rng.Float64() < cond.DropRate {
		return nil // silently dropped
	}

	if cond.DelayMax > 0 {
		delay := cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	if cond.DuplicateRate > 0 && rng.Float64() < cond.DuplicateRate {
		if _, err := a.conn.Write(data); err != nil {
			return err
		}
	}

	_, err := a.conn.Write(data)
	return err
}

// TxDone nudges the pipe to deliver queued frames. With auto-processing
// enabled this is redundant but harmless.
func (a *PipeAdapter) TxDone() {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if !closed {
		a.pipe.Tick()
	}
}

// readLoop reads frames from the pipe and dispatches them.
func (a *PipeAdapter) readLoop() {
	defer a.wg.Done()

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()

	buf := make([]byte, DefaultMaxFrameSize)

	for {
		n, err := a.conn.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		handler(buf[:n])
	}
}

// Verify PipeAdapter implements Adapter and TxDoneNotifier.
var (
	_ Adapter        = (*PipeAdapter)(nil)
	_ TxDoneNotifier = (*PipeAdapter)(nil)
)
