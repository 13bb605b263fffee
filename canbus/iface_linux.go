//go:build linux

package canbus

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// IsInterfaceUp returns true if the Linux network interface has IFF_UP set.
// Reading flags needs no special privileges.
func IsInterfaceUp(name string) (bool, error) {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return false, fmt.Errorf("canbus: invalid interface name %q: %w", name, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return false, err
	}
	defer unix.Close(fd)
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return false, fmt.Errorf("canbus: SIOCGIFFLAGS %s: %w", name, err)
	}
	return ifr.Uint16()&unix.IFF_UP != 0, nil
}
