package odrive

import (
	"errors"
	"fmt"
)

// Protocol errors. Each of them matches ErrProtocol with errors.Is.
var (
	ErrProtocol       = errors.New("odrive: protocol error")
	ErrUnknownMessage = protocolError("unknown message")
	ErrUnknownFrame   = protocolError("unknown frame id")
	ErrFieldMismatch  = protocolError("field mismatch")
	ErrFieldRange     = protocolError("field out of range")
	ErrShortPayload   = protocolError("payload too short")
)

// Axis operation errors.
var (
	// ErrInputTooSmall is returned when a power or rpm magnitude is below
	// minMagnitude. Nothing is sent.
	ErrInputTooSmall = errors.New("odrive: input magnitude nearly zero")
	// ErrStateTimeout is returned when a requested axis state was not observed
	// in time. The axis has been commanded to idle.
	ErrStateTimeout = errors.New("odrive: timed out waiting for axis state")
	// ErrClosed is returned by operations on a closed Axis.
	ErrClosed = errors.New("odrive: axis closed")
)

type protoErr struct{ msg string }

func protocolError(msg string) error { return &protoErr{msg: msg} }

func (e *protoErr) Error() string { return "odrive: " + e.msg }

func (e *protoErr) Unwrap() error { return ErrProtocol }

// TransportError reports a frame that could not be handed to the bus.
type TransportError struct {
	Op   string // message name
	Node NodeID
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("odrive: send %s to node %d: %v", e.Op, e.Node, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing or invalid configuration value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("odrive: config %s: %s", e.Field, e.Reason)
}

// DeviceFault is a nonzero axis error reported by the device.
type DeviceFault struct {
	Node  NodeID
	Code  AxisError
	State AxisState
}

func (e *DeviceFault) Error() string {
	return fmt.Sprintf("odrive: node %d fault %s in state %s", e.Node, e.Code, e.State)
}
