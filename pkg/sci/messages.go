package sci

import (
	"bytes"
	"encoding/binary"

	"github.com/konsulko/sciproto/pkg/message"
)

// Payload sizes (excluding the fixed message header).
const (
	versionRespSize        = message.FirmwareDescriptionSize + 4
	setDeviceStateReqSize  = 9
	getDeviceStateReqSize  = 4
	getDeviceStateRespSize = 10
)

// VersionInfo describes the firmware running on the controller entity.
type VersionInfo struct {
	// ABIMajor and ABIMinor identify the protocol ABI the firmware
	// implements.
	ABIMajor uint8
	ABIMinor uint8

	// FirmwareRevision is the firmware build revision.
	FirmwareRevision uint16

	// FirmwareDescription is a short human-readable firmware identifier.
	FirmwareDescription string
}

// decodeVersionResp parses a TypeVersion response payload.
func decodeVersionResp(payload []byte) (VersionInfo, error) {
	if len(payload) < versionRespSize {
		return VersionInfo{}, ErrShortReply
	}

	desc := payload[:message.FirmwareDescriptionSize]
	if i := bytes.IndexByte(desc, 0); i >= 0 {
		desc = desc[:i]
	}

	return VersionInfo{
		FirmwareDescription: string(desc),
		FirmwareRevision:    binary.LittleEndian.Uint16(payload[message.FirmwareDescriptionSize:]),
		ABIMajor:            payload[message.FirmwareDescriptionSize+2],
		ABIMinor:            payload[message.FirmwareDescriptionSize+3],
	}, nil
}

// encodeSetDeviceStateReq builds a TypeSetDeviceState request payload.
func encodeSetDeviceStateReq(id uint32, state uint8) []byte {
	payload := make([]byte, setDeviceStateReqSize)
	binary.LittleEndian.PutUint32(payload, id)
	// 4 reserved bytes between id and state
	payload[8] = state
	return payload
}

// DeviceState reports a device's bookkeeping as seen by the controller.
type DeviceState struct {
	// ContextLossCount counts how often the device lost context, e.g.
	// due to a domain power-off.
	ContextLossCount uint32

	// ResetCount counts device resets.
	ResetCount uint32

	// ProgrammedState is the state most recently requested for the
	// device.
	ProgrammedState uint8

	// CurrentState is the state the device is actually in.
	CurrentState uint8
}

// encodeGetDeviceStateReq builds a TypeGetDeviceState request payload.
func encodeGetDeviceStateReq(id uint32) []byte {
	payload := make([]byte, getDeviceStateReqSize)
	binary.LittleEndian.PutUint32(payload, id)
	return payload
}

// decodeGetDeviceStateResp parses a TypeGetDeviceState response payload.
func decodeGetDeviceStateResp(payload []byte) (DeviceState, error) {
	if len(payload) < getDeviceStateRespSize {
		return DeviceState{}, ErrShortReply
	}

	return DeviceState{
		ContextLossCount: binary.LittleEndian.Uint32(payload),
		ResetCount:       binary.LittleEndian.Uint32(payload[4:]),
		ProgrammedState:  payload[8],
		CurrentState:     payload[9],
	}, nil
}
