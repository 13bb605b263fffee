//go:build linux

package canbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollSlice bounds a single poll(2) call so context cancellation and Close are
// noticed promptly.
const pollSlice = 50 * time.Millisecond

// socketCAN implements Bus over a Linux SocketCAN raw socket.
//
// Every syscall on fd runs under a read lock on fdmu. Close takes the write
// lock before closing fd, so the descriptor number cannot be reused while a
// read, write or poll is still using it.
type socketCAN struct {
	fd     int
	iface  string
	wmu    sync.Mutex
	fdmu   sync.RWMutex
	once   sync.Once
	closed chan struct{}
}

func newSocketCAN(fd int, iface string) *socketCAN {
	return &socketCAN{fd: fd, iface: iface, closed: make(chan struct{})}
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name (e.g., "can0").
func DialSocketCAN(iface string) (Bus, error) {
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("canbus: interface %s: %w", iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canbus: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canbus: bind %s: %w", iface, err)
	}
	// Non-blocking mode for context-aware operations
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canbus: set nonblock: %w", err)
	}
	return newSocketCAN(fd, iface), nil
}

func (s *socketCAN) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		s.fdmu.Lock()
		defer s.fdmu.Unlock()
		err = unix.Close(s.fd)
	})
	return err
}

func (s *socketCAN) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Send writes one frame using the Linux can_frame binary layout.
func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for {
		var n int
		werr := s.withFD(func(fd int) (err error) {
			n, err = unix.Write(fd, buf)
			return err
		})
		if werr == ErrClosed {
			return ErrClosed
		}
		if werr == nil {
			if n != len(buf) {
				return errors.New("canbus: short write")
			}
			return nil
		}
		if werr == unix.EAGAIN || werr == unix.ENOBUFS || werr == unix.EINTR {
			// ENOBUFS: tx queue full, wait and retry
			if err := s.wait(ctx, unix.POLLOUT); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("canbus: write %s: %w", s.iface, werr)
	}
}

// Receive reads one frame (blocking respecting context).
func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	var f Frame
	buf := make([]byte, 16)
	for {
		var n int
		rerr := s.withFD(func(fd int) (err error) {
			n, err = unix.Read(fd, buf)
			return err
		})
		if rerr == ErrClosed {
			return Frame{}, ErrClosed
		}
		if rerr == nil {
			if n != len(buf) {
				return Frame{}, errors.New("canbus: short read")
			}
			if err := f.UnmarshalBinary(buf); err != nil {
				return Frame{}, err
			}
			return f, nil
		}
		if rerr == unix.EAGAIN || rerr == unix.EINTR {
			if err := s.wait(ctx, unix.POLLIN); err != nil {
				return Frame{}, err
			}
			continue
		}
		if s.isClosed() {
			return Frame{}, ErrClosed
		}
		return Frame{}, fmt.Errorf("canbus: read %s: %w", s.iface, rerr)
	}
}

// withFD runs op while fd is guaranteed open. It returns ErrClosed once Close
// has started.
func (s *socketCAN) withFD(op func(fd int) error) error {
	s.fdmu.RLock()
	defer s.fdmu.RUnlock()
	if s.isClosed() {
		return ErrClosed
	}
	return op(s.fd)
}

// wait polls for the requested events in short slices until ready, the
// context ends or the socket is closed.
func (s *socketCAN) wait(ctx context.Context, events int16) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.isClosed() {
			return ErrClosed
		}
		timeout := pollSlice
		if deadline, ok := ctx.Deadline(); ok {
			if d := time.Until(deadline); d < timeout {
				timeout = d
			}
			if timeout <= 0 {
				return ctx.Err()
			}
		}
		fds := []unix.PollFd{{Events: events}}
		var n int
		err := s.withFD(func(fd int) (err error) {
			fds[0].Fd = int32(fd)
			n, err = unix.Poll(fds, int(timeout/time.Millisecond))
			return err
		})
		if err == ErrClosed {
			return ErrClosed
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("canbus: poll %s: %w", s.iface, err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return ErrClosed
		}
		return nil
	}
}
