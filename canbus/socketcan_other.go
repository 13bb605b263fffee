//go:build !linux

package canbus

import "errors"

// ErrUnsupported is returned by the SocketCAN helpers on non-Linux systems.
var ErrUnsupported = errors.New("canbus: socketcan requires linux")

// DialSocketCAN is only available on Linux.
func DialSocketCAN(iface string) (Bus, error) { return nil, ErrUnsupported }

// IsInterfaceUp is only available on Linux.
func IsInterfaceUp(name string) (bool, error) { return false, ErrUnsupported }
