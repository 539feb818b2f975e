// Package message implements the TISCI wire format.
//
// Every TISCI message, request or response, starts with a fixed 8-byte
// header carrying the message type, the originating host, a sequence
// identifier and a flag word. The payload that follows is message-type
// specific. All multi-byte fields are little-endian on the wire.
//
// The sequence identifier is echoed verbatim by the responding entity and
// is what lets the exchange layer (pkg/exchange) correlate a reply with the
// request that produced it.
package message

// Message type identifiers for the generic TISCI command set.
const (
	// TypeVersion requests the firmware revision and ABI of the
	// system-controller entity.
	TypeVersion uint16 = 0x0002

	// TypeSetDeviceState requests a device power-state transition.
	TypeSetDeviceState uint16 = 0x0200

	// TypeGetDeviceState queries the current and programmed state of a
	// device.
	TypeGetDeviceState uint16 = 0x0201
)

// Request flag bits.
const (
	// FlagReqGenericNoResponse marks a request for which the sender does
	// not expect any acknowledgement message.
	FlagReqGenericNoResponse uint32 = 0x0

	// FlagReqAckOnProcessed asks the receiving entity to acknowledge the
	// request once it has been processed.
	FlagReqAckOnProcessed uint32 = 1 << 1
)

// Response flag bits.
const (
	// FlagRespGenericNack indicates the request was rejected. It is the
	// absence of FlagRespGenericAck rather than a bit of its own.
	FlagRespGenericNack uint32 = 0x0

	// FlagRespGenericAck indicates the request was accepted and processed.
	FlagRespGenericAck uint32 = 1 << 1
)

// Device-specific request flag bits for TypeSetDeviceState.
const (
	// FlagDeviceWakeEnabled allows the device to wake the SoC from
	// low-power states.
	FlagDeviceWakeEnabled uint32 = 1 << 8

	// FlagDeviceResetIsolation enables reset isolation for the device.
	FlagDeviceResetIsolation uint32 = 1 << 9

	// FlagDeviceExclusive claims the device exclusively for the
	// requesting host.
	FlagDeviceExclusive uint32 = 1 << 10
)

// Device states used by TypeSetDeviceState requests.
const (
	// DeviceSwStateAutoOff lets the controller power the device down when
	// it has no other users.
	DeviceSwStateAutoOff uint8 = 0

	// DeviceSwStateRetention keeps the device in retention.
	DeviceSwStateRetention uint8 = 1

	// DeviceSwStateOn powers the device up.
	DeviceSwStateOn uint8 = 2
)
