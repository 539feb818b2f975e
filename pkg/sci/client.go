// Package sci provides typed TISCI commands on top of the exchange engine.
//
// Each command is a thin encode/execute/decode wrapper: it builds a
// request payload, runs one synchronous exchange, checks the generic
// acknowledgement flag where the command expects one, and decodes the
// response payload into a Go struct. All correlation, timeout and
// resource-limit behavior lives in pkg/exchange.
package sci

import (
	"github.com/pion/logging"

	"github.com/konsulko/sciproto/pkg/message"
)

// Executor runs exchanges against a controller entity.
// *exchange.Engine satisfies this interface.
type Executor interface {
	// Execute performs one synchronous request/response exchange.
	Execute(msgType uint16, flags uint32, payload []byte, replyLen int) ([]byte, error)

	// Send performs a fire-and-forget request.
	Send(msgType uint16, flags uint32, payload []byte) error
}

// Client issues TISCI commands through an Executor.
type Client struct {
	exec Executor
	log  logging.LeveledLogger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewClient creates a client over the given executor.
func NewClient(exec Executor, config ClientConfig) (*Client, error) {
	if exec == nil {
		return nil, ErrNoExecutor
	}

	c := &Client{exec: exec}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("sci")
	}
	return c, nil
}

// Version queries the controller's firmware revision and ABI.
func (c *Client) Version() (VersionInfo, error) {
	reply, err := c.exec.Execute(message.TypeVersion, 0, nil, message.HeaderSize+versionRespSize)
	if err != nil {
		return VersionInfo{}, err
	}

	info, err := decodeVersionResp(reply[message.HeaderSize:])
	if err != nil {
		return VersionInfo{}, err
	}

	if c.log != nil {
		c.log.Infof("controller ABI %d.%d (firmware rev 0x%04x '%s')",
			info.ABIMajor, info.ABIMinor, info.FirmwareRevision, info.FirmwareDescription)
	}
	return info, nil
}

// SetDeviceState requests a device state transition and waits for the
// controller to acknowledge it. deviceFlags carries the device-specific
// request bits (wake, reset isolation, exclusive).
func (c *Client) SetDeviceState(id uint32, deviceFlags uint32, state uint8) error {
	flags := message.FlagReqAckOnProcessed | deviceFlags
	payload := encodeSetDeviceStateReq(id, state)

	reply, err := c.exec.Execute(message.TypeSetDeviceState, flags, payload, message.HeaderSize)
	if err != nil {
		return err
	}

	return c.checkAck(reply)
}

// SetDeviceStateNoWait requests a device state transition without waiting
// for any acknowledgement. Use it when the caller cannot block and a lost
// request is acceptable.
func (c *Client) SetDeviceStateNoWait(id uint32, deviceFlags uint32, state uint8) error {
	flags := message.FlagReqGenericNoResponse | deviceFlags
	return c.exec.Send(message.TypeSetDeviceState, flags, encodeSetDeviceStateReq(id, state))
}

// GetDeviceState queries a device's programmed and current state.
func (c *Client) GetDeviceState(id uint32) (DeviceState, error) {
	payload := encodeGetDeviceStateReq(id)

	reply, err := c.exec.Execute(message.TypeGetDeviceState, 0, payload, message.HeaderSize+getDeviceStateRespSize)
	if err != nil {
		return DeviceState{}, err
	}
	if err := c.checkAck(reply); err != nil {
		return DeviceState{}, err
	}

	return decodeGetDeviceStateResp(reply[message.HeaderSize:])
}

// checkAck verifies a response carries the generic ACK flag.
func (c *Client) checkAck(reply []byte) error {
	var hdr message.Header
	if err := hdr.Decode(reply); err != nil {
		return err
	}
	if !hdr.IsAck() {
		if c.log != nil {
			c.log.Errorf("request type 0x%04x NACKed by controller", hdr.Type)
		}
		return ErrNack
	}
	return nil
}
