package odrive

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notnil/odrivecan/canbus"
)

// Signals maps signal names to physical values.
type Signals map[string]float64

// Encode builds the frame for the named message. The frame id is the base
// command id; callers compose the node id with ArbitrationID. Every signal of
// the message must be present and no others.
func (c *Catalog) Encode(name string, values Signals) (canbus.Frame, error) {
	m, ok := c.Message(name)
	if !ok {
		return canbus.Frame{}, fmt.Errorf("%w: %q", ErrUnknownMessage, name)
	}
	if err := checkFields(m, values); err != nil {
		return canbus.Frame{}, err
	}
	var word uint64
	for _, s := range m.Signals {
		raw, err := s.pack(values[s.Name])
		if err != nil {
			return canbus.Frame{}, fmt.Errorf("%s: %w", m.Name, err)
		}
		word |= raw
	}
	f := canbus.Frame{ID: uint32(m.ID), Len: m.Length}
	for i := 0; i < int(m.Length); i++ {
		f.Data[i] = byte(word >> (8 * i))
	}
	return f, nil
}

// Decode parses payload for the message whose base id matches frameID after
// the node bits are stripped.
func (c *Catalog) Decode(frameID uint32, payload []byte) (MessageSpec, Signals, error) {
	cmd := CmdID(frameID & cmdMask)
	m, ok := c.MessageByID(cmd)
	if !ok {
		return MessageSpec{}, nil, fmt.Errorf("%w: 0x%02X", ErrUnknownFrame, uint8(cmd))
	}
	if len(payload) < int(m.Length) {
		return m, nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPayload, m.Name, m.Length, len(payload))
	}
	word := payloadWord(payload)
	out := make(Signals, len(m.Signals))
	for _, s := range m.Signals {
		out[s.Name] = s.unpack(word)
	}
	return m, out, nil
}

// DecodeFrame decodes f and checks it carries the expected message.
func (c *Catalog) DecodeFrame(name string, f canbus.Frame) (Signals, error) {
	m, vals, err := c.Decode(f.ID, f.Payload())
	if err != nil {
		return nil, err
	}
	if m.Name != name {
		return nil, fmt.Errorf("%w: frame 0x%03X is %s, want %s", ErrFieldMismatch, f.ID, m.Name, name)
	}
	return vals, nil
}

func checkFields(m MessageSpec, values Signals) error {
	var missing, unknown []string
	for _, s := range m.Signals {
		if _, ok := values[s.Name]; !ok {
			missing = append(missing, s.Name)
		}
	}
	for k := range values {
		if _, ok := m.Signal(k); !ok {
			unknown = append(unknown, k)
		}
	}
	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown "+strings.Join(unknown, ", "))
	}
	return fmt.Errorf("%w: %s: %s", ErrFieldMismatch, m.Name, strings.Join(parts, "; "))
}
