package odrive

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SignalKind is the raw representation of a signal.
type SignalKind string

const (
	Unsigned SignalKind = "unsigned"
	Signed   SignalKind = "signed"
	Float    SignalKind = "float" // IEEE-754 binary32
)

// Signal is one field of a message. Bits are numbered Intel style: bit 0 is
// the least significant bit of byte 0 and a signal occupies Length
// consecutive bits starting at Start.
//
// The physical value is raw*Factor + Offset. A zero Factor means 1. Min and
// Max bound the physical value when Min < Max.
type Signal struct {
	Name   string     `yaml:"name"`
	Start  uint       `yaml:"start"`
	Length uint       `yaml:"length"`
	Kind   SignalKind `yaml:"kind"`
	Factor float64    `yaml:"factor,omitempty"`
	Offset float64    `yaml:"offset,omitempty"`
	Min    float64    `yaml:"min,omitempty"`
	Max    float64    `yaml:"max,omitempty"`
}

func (s Signal) factor() float64 {
	if s.Factor == 0 {
		return 1
	}
	return s.Factor
}

func (s Signal) mask() uint64 {
	if s.Length >= 64 {
		return math.MaxUint64
	}
	return 1<<s.Length - 1
}

func (s Signal) validate(bits uint) error {
	switch s.Kind {
	case Unsigned, Signed:
		if s.Length == 0 || s.Length > 64 {
			return fmt.Errorf("signal %s: length %d not in 1..64", s.Name, s.Length)
		}
	case Float:
		if s.Length != 32 {
			return fmt.Errorf("signal %s: float signals are 32 bits, got %d", s.Name, s.Length)
		}
	default:
		return fmt.Errorf("signal %s: unknown kind %q", s.Name, s.Kind)
	}
	if s.Start+s.Length > bits {
		return fmt.Errorf("signal %s: bits %d..%d exceed %d-bit payload", s.Name, s.Start, s.Start+s.Length-1, bits)
	}
	return nil
}

// pack converts the physical value to raw bits positioned in the payload word.
func (s Signal) pack(v float64) (uint64, error) {
	if s.Min < s.Max && (v < s.Min || v > s.Max) {
		return 0, fmt.Errorf("%w: %s=%v not in [%v, %v]", ErrFieldRange, s.Name, v, s.Min, s.Max)
	}
	if math.IsNaN(v) && s.Kind != Float {
		return 0, fmt.Errorf("%w: %s is NaN", ErrFieldRange, s.Name)
	}
	scaled := (v - s.Offset) / s.factor()
	var raw uint64
	switch s.Kind {
	case Float:
		raw = uint64(math.Float32bits(float32(scaled)))
	case Unsigned:
		r := math.Round(scaled)
		if r < 0 || r > float64(s.mask()) {
			return 0, fmt.Errorf("%w: %s=%v does not fit %d unsigned bits", ErrFieldRange, s.Name, v, s.Length)
		}
		if s.Length == 64 && r >= math.MaxUint64 {
			raw = math.MaxUint64
		} else {
			raw = uint64(r)
		}
	case Signed:
		r := math.Round(scaled)
		lim := math.Ldexp(1, int(s.Length)-1)
		if r < -lim || r > lim-1 {
			return 0, fmt.Errorf("%w: %s=%v does not fit %d signed bits", ErrFieldRange, s.Name, v, s.Length)
		}
		raw = uint64(int64(r)) & s.mask()
	}
	return raw << s.Start, nil
}

// unpack extracts the physical value from the payload word.
func (s Signal) unpack(word uint64) float64 {
	raw := (word >> s.Start) & s.mask()
	var v float64
	switch s.Kind {
	case Float:
		v = float64(math.Float32frombits(uint32(raw)))
	case Signed:
		shift := 64 - s.Length
		v = float64(int64(raw<<shift) >> shift)
	default:
		v = float64(raw)
	}
	return v*s.factor() + s.Offset
}

func payloadWord(p []byte) uint64 {
	var b [8]byte
	copy(b[:], p)
	return binary.LittleEndian.Uint64(b[:])
}
