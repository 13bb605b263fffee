package odrive

import "fmt"

// NodeID is the CANSimple node address of one axis. It occupies the upper six
// bits of an 11-bit standard identifier.
type NodeID uint8

// MaxNodeID is the largest node id that fits a standard identifier.
const MaxNodeID NodeID = 0x3F

// cmdBits is the width of the command id below the node id.
const cmdBits = 5

// cmdMask selects the command id from an arbitration id.
const cmdMask = 1<<cmdBits - 1

// Validate checks that the node id is in range 0..63.
func (n NodeID) Validate() error {
	if n > MaxNodeID {
		return fmt.Errorf("odrive: invalid node id %d (valid 0..%d)", n, MaxNodeID)
	}
	return nil
}

// CmdID is a CANSimple command (base frame) id, 0..31.
type CmdID uint8

// Command ids of the CANSimple message set.
const (
	CmdHeartbeat           CmdID = 0x01
	CmdEstop               CmdID = 0x02
	CmdGetMotorError       CmdID = 0x03
	CmdGetEncoderError     CmdID = 0x04
	CmdSetAxisNodeID       CmdID = 0x06
	CmdSetAxisState        CmdID = 0x07
	CmdGetEncoderEstimates CmdID = 0x09
	CmdGetEncoderCount     CmdID = 0x0A
	CmdSetControllerMode   CmdID = 0x0B
	CmdSetInputPos         CmdID = 0x0C
	CmdSetInputVel         CmdID = 0x0D
	CmdSetInputTorque      CmdID = 0x0E
	CmdSetLimits           CmdID = 0x0F
	CmdSetTrajVelLimit     CmdID = 0x11
	CmdSetTrajAccelLimits  CmdID = 0x12
	CmdGetIq               CmdID = 0x14
	CmdReboot              CmdID = 0x16
	CmdGetVbusVoltage      CmdID = 0x17
	CmdClearErrors         CmdID = 0x18
)

// ArbitrationID composes the frame identifier for node and cmd.
func ArbitrationID(node NodeID, cmd CmdID) uint32 {
	return uint32(node)<<cmdBits | uint32(cmd)&cmdMask
}

// SplitArbitrationID is the inverse of ArbitrationID for standard identifiers.
func SplitArbitrationID(id uint32) (NodeID, CmdID, error) {
	if id > 0x7FF {
		return 0, 0, fmt.Errorf("odrive: invalid 11-bit id 0x%X", id)
	}
	return NodeID(id >> cmdBits), CmdID(id & cmdMask), nil
}
