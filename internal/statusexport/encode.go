// internal/statusexport/encode.go
package statusexport

import (
	"math"

	"github.com/notnil/odrivecan/odrive"
)

// Register block layout, relative to the configured start address.
const (
	RegState    = 0 // axis state
	RegErrorHi  = 1 // axis error, high word
	RegErrorLo  = 2
	RegPosition = 3 // float32 turns, high word first
	RegVelocity = 5 // float32 turns/s, high word first
	RegPowered  = 7 // 1 when the axis is in a powered state
	BlockLength = 8
)

// Encode lays a telemetry snapshot out as holding registers.
func Encode(t odrive.Telemetry) [BlockLength]uint16 {
	var regs [BlockLength]uint16
	regs[RegState] = uint16(t.State)
	regs[RegErrorHi] = uint16(uint32(t.AxisError) >> 16)
	regs[RegErrorLo] = uint16(t.AxisError)
	putFloat(regs[RegPosition:], t.Position)
	putFloat(regs[RegVelocity:], t.Velocity)
	if t.State.Powered() {
		regs[RegPowered] = 1
	}
	return regs
}

func putFloat(dst []uint16, v float64) {
	bits := math.Float32bits(float32(v))
	dst[0] = uint16(bits >> 16)
	dst[1] = uint16(bits)
}

// packRegisters serializes registers big-endian, as Modbus sends them.
func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
