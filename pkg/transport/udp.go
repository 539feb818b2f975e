package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// DefaultPort is the default UDP port a TISCI controller endpoint listens on.
const DefaultPort = 5910

// DefaultMaxFrameSize bounds the size of a single frame carried over UDP.
// TISCI messages are small; anything larger than this is not a valid frame.
const DefaultMaxFrameSize = 512

// UDP is a point-to-point datagram adapter over a net.PacketConn.
// It runs a read loop that delivers each received datagram to the
// configured Handler.
type UDP struct {
	conn    net.PacketConn
	remote  net.Addr
	maxSize int
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu      sync.RWMutex
	handler Handler
	started bool
	closed  bool
}

// UDPConfig configures the UDP adapter.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn to use.
	// If nil, a new connection is created using ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the local address to bind (e.g., ":0").
	// Ignored if Conn is provided.
	ListenAddr string

	// RemoteAddr is the controller endpoint Send transmits to.
	// Required for sending.
	RemoteAddr net.Addr

	// MaxFrameSize bounds individual frames. Defaults to
	// DefaultMaxFrameSize.
	MaxFrameSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewUDP creates a new UDP adapter with the given configuration.
func NewUDP(config UDPConfig) (*UDP, error) {
	u := &UDP{
		conn:    config.Conn,
		remote:  config.RemoteAddr,
		maxSize: config.MaxFrameSize,
		closeCh: make(chan struct{}),
	}

	if u.maxSize == 0 {
		u.maxSize = DefaultMaxFrameSize
	}

	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}

		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}

	return u, nil
}

// SetHandler installs the handler invoked for each received frame.
// Must be called before Start.
func (u *UDP) SetHandler(h Handler) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = h
}

// Start begins the read loop for receiving frames.
func (u *UDP) Start() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	if u.started {
		u.mu.Unlock()
		return ErrAlreadyStarted
	}
	if u.handler == nil {
		u.mu.Unlock()
		return ErrNoHandler
	}
	u.started = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Infof("starting UDP transport on %s", u.conn.LocalAddr())
	}

	u.wg.Add(1)
	go u.readLoop()

	return nil
}

// Stop closes the transport and waits for the read loop to exit.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Info("stopping UDP transport")
	}

	close(u.closeCh)

	// Unblock any pending read
	u.conn.SetReadDeadline(time.Now())
	u.conn.Close()
	u.wg.Wait()

	return nil
}

// Send transmits one frame to the configured remote endpoint.
func (u *UDP) Send(data []byte) error {
	u.mu.RLock()
	if u.closed {
		u.mu.RUnlock()
		return ErrClosed
	}
	u.mu.RUnlock()

	if u.remote == nil {
		return ErrNoRemote
	}

	if len(data) > u.maxSize {
		return ErrMessageTooLarge
	}

	if u.log != nil {
		u.log.Debugf("sending %d bytes to %v", len(data), u.remote)
	}

	_, err := u.conn.WriteTo(data, u.remote)
	if err != nil {
		if u.log != nil {
			u.log.Warnf("send failed: %v", err)
		}
		return err
	}

	return nil
}

// LocalAddr returns the local address the transport is listening on.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// readLoop reads datagrams from the connection and dispatches them.
func (u *UDP) readLoop() {
	defer u.wg.Done()

	u.mu.RLock()
	handler := u.handler
	u.mu.RUnlock()

	buf := make([]byte, u.maxSize)

	for {
		select {
		case <-u.closeCh:
			return
		default:
		}

		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
				if u.log != nil {
					u.log.Warnf("UDP read error: %v", err)
				}
				continue
			}
		}

		if n == 0 {
			continue
		}

		if u.log != nil {
			u.log.Debugf("received %d bytes from %v", n, addr)
		}

		// The handler only owns the frame for the call, so the read
		// buffer can be reused for the next datagram.
		handler(buf[:n])
	}
}

// Verify UDP implements Adapter.
var _ Adapter = (*UDP)(nil)
