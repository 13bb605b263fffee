package canbus

import (
	"context"
	"errors"
	"fmt"
)

// Bus represents a CAN bus connection which can send and receive CAN frames.
// Implementations must be safe for concurrent Send from multiple goroutines.
// Receive is expected to have a single caller; use a Mux to share it.
type Bus interface {
	// Send transmits a frame. It may block until the frame is queued or sent.
	// Context cancellation should abort the operation and return the context error.
	Send(ctx context.Context, frame Frame) error

	// Receive retrieves the next available frame. It should block until a frame
	// is available or the context is cancelled.
	Receive(ctx context.Context) (Frame, error)

	// Close releases resources. Further Send/Receive may return an error.
	Close() error
}

// ErrClosed indicates the bus or endpoint has been closed.
var ErrClosed = errors.New("canbus: closed")

// BringUpHint returns the iproute2 command an operator runs to bring a CAN
// interface up at the given bitrate.
func BringUpHint(iface string, bitrate uint32) string {
	return fmt.Sprintf("sudo ip link set %s up type can bitrate %d", iface, bitrate)
}
