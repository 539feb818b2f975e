package transport

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pion/logging"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// secureInfo is the HKDF context string binding derived keys to this
// framing scheme.
var secureInfo = []byte("tisci-secure-frame-v1")

// Secure wraps another Adapter and protects every frame with
// XChaCha20-Poly1305. The session key is derived from a pre-shared key
// with HKDF-SHA256, so both ends only need to agree on the PSK.
//
// Each outbound frame is nonce || ciphertext. Inbound frames that are too
// short or fail authentication are logged and dropped; the wrapped handler
// only ever sees authentic plaintext frames.
type Secure struct {
	inner Adapter
	aead  cipher.AEAD
	log   logging.LeveledLogger

	handler Handler
}

// SecureConfig configures a Secure adapter.
type SecureConfig struct {
	// PSK is the pre-shared key both endpoints agree on. Required.
	PSK []byte

	// Salt is an optional HKDF salt, e.g. a deployment identifier.
	Salt []byte

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewSecure wraps inner so that all frames are sealed with a key derived
// from config.PSK. The returned adapter installs itself as inner's
// handler; callers interact with the Secure adapter only.
func NewSecure(inner Adapter, config SecureConfig) (*Secure, error) {
	if len(config.PSK) == 0 {
		return nil, ErrShortKey
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, config.PSK, config.Salt, secureInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	s := &Secure{
		inner: inner,
		aead:  aead,
	}

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport-secure")
	}

	inner.SetHandler(s.onArrival)
	return s, nil
}

// SetHandler installs the handler invoked for each authenticated frame.
func (s *Secure) SetHandler(h Handler) {
	s.handler = h
}

// Send seals one frame and hands it to the wrapped adapter.
func (s *Secure) Send(data []byte) error {
	buf := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(data)+chacha20poly1305.Overhead)
	if _, err := rand.Read(buf); err != nil {
		return err
	}

	sealed := s.aead.Seal(buf, buf[:chacha20poly1305.NonceSizeX], data, nil)
	return s.inner.Send(sealed)
}

// TxDone forwards the liveness hint to the wrapped adapter if it supports
// one.
func (s *Secure) TxDone() {
	if n, ok := s.inner.(TxDoneNotifier); ok {
		n.TxDone()
	}
}

// onArrival authenticates one inbound frame and delivers the plaintext.
func (s *Secure) onArrival(data []byte) {
	if s.handler == nil {
		return
	}

	if len(data) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		if s.log != nil {
			s.log.Warnf("dropping short frame (%d bytes)", len(data))
		}
		return
	}

	nonce := data[:chacha20poly1305.NonceSizeX]
	plain, err := s.aead.Open(nil, nonce, data[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("dropping unauthenticated frame: %v", err)
		}
		return
	}

	s.handler(plain)
}

// Verify Secure implements Adapter and TxDoneNotifier.
var (
	_ Adapter        = (*Secure)(nil)
	_ TxDoneNotifier = (*Secure)(nil)
)
