package message

import (
	"encoding/binary"
)

// HeaderSize is the encoded size of the TISCI message header in bytes.
const HeaderSize = 8

// FirmwareDescriptionSize is the size of the firmware description string in
// a TypeVersion response.
const FirmwareDescriptionSize = 32

// Header is the fixed header that prefixes every TISCI message.
// All multi-byte fields are little-endian on the wire.
type Header struct {
	// Type identifies the command or response.
	Type uint16

	// Host identifies the compute entity that originated the request.
	Host uint8

	// Seq is the exchange sequence identifier. The responding entity
	// echoes it back unchanged, allowing replies to be correlated with
	// their originating request.
	Seq uint8

	// Flags carries request or response flag bits.
	Flags uint32
}

// EncodeTo serializes the header into the provided buffer.
// The buffer must be at least HeaderSize bytes long.
// Returns the number of bytes written.
func (h *Header) EncodeTo(buf []byte) int {
	binary.LittleEndian.PutUint16(buf[0:], h.Type)
	buf[2] = h.Host
	buf[3] = h.Seq
	binary.LittleEndian.PutUint32(buf[4:], h.Flags)
	return HeaderSize
}

// Encode serializes the header to a freshly allocated buffer.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf
}

// Decode parses the header from the start of data.
// Returns ErrShortMessage if data is shorter than HeaderSize.
func (h *Header) Decode(data []byte) error {
	if len(data) < HeaderSize {
		return ErrShortMessage
	}
	h.Type = binary.LittleEndian.Uint16(data[0:])
	h.Host = data[2]
	h.Seq = data[3]
	h.Flags = binary.LittleEndian.Uint32(data[4:])
	return nil
}

// IsAck reports whether a response header carries the generic ACK flag.
func (h *Header) IsAck() bool {
	return h.Flags&FlagRespGenericAck != 0
}
