// Package slcan implements canbus.Bus over a serial-line CAN adapter speaking
// the Lawicel ASCII protocol (CANable, USBtin, CANtact and friends).
package slcan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/notnil/odrivecan/canbus"
)

const (
	readTimeout = 50 * time.Millisecond
	rxQueue     = 128
)

var (
	// ErrBitrate is returned for bitrates the adapter has no preset for.
	ErrBitrate = errors.New("slcan: unsupported bitrate")
	// ErrRecord is returned for malformed ASCII records.
	ErrRecord = errors.New("slcan: malformed record")
)

var bitrateCodes = map[uint32]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// BitrateCommand returns the "Sn" setup command for the bitrate.
func BitrateCommand(bitrate uint32) (string, error) {
	c, ok := bitrateCodes[bitrate]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrBitrate, bitrate)
	}
	return "S" + string(c) + "\r", nil
}

// Port is the subset of serial.Port the bus needs.
type Port interface {
	io.ReadWriteCloser
}

// Bus is a canbus.Bus on top of an SLCAN adapter.
type Bus struct {
	port   Port
	logger *slog.Logger

	wmu    sync.Mutex
	rx     chan canbus.Frame
	closed chan struct{}
	once   sync.Once
	done   chan struct{}
	err    error
}

// Open opens the serial device, configures the adapter for bitrate and opens
// the CAN channel.
func Open(portName string, bitrate uint32, logger *slog.Logger) (*Bus, error) {
	setup, err := BitrateCommand(bitrate)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("slcan: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("slcan: set read timeout: %w", err)
	}
	// Close first in case a previous session left the channel open.
	for _, cmd := range []string{"C\r", setup, "O\r"} {
		if _, err := io.WriteString(port, cmd); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("slcan: setup %q: %w", cmd, err)
		}
	}
	return New(port, logger), nil
}

// New wraps an already configured port whose CAN channel is open.
func New(port Port, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		port:   port,
		logger: logger,
		rx:     make(chan canbus.Frame, rxQueue),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// Send writes one frame record.
func (b *Bus) Send(ctx context.Context, frame canbus.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	select {
	case <-b.closed:
		return canbus.ErrClosed
	default:
	}
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if _, err := b.port.Write(rec); err != nil {
		return fmt.Errorf("slcan: write: %w", err)
	}
	return nil
}

// Receive returns the next decoded frame.
func (b *Bus) Receive(ctx context.Context) (canbus.Frame, error) {
	select {
	case f := <-b.rx:
		return f, nil
	case <-b.done:
		// Drain what the reader queued before it stopped.
		select {
		case f := <-b.rx:
			return f, nil
		default:
		}
		if b.err != nil {
			return canbus.Frame{}, b.err
		}
		return canbus.Frame{}, canbus.ErrClosed
	case <-ctx.Done():
		return canbus.Frame{}, ctx.Err()
	}
}

// Close closes the CAN channel and the serial port.
func (b *Bus) Close() error {
	var err error
	b.once.Do(func() {
		close(b.closed)
		b.wmu.Lock()
		_, _ = io.WriteString(b.port, "C\r")
		b.wmu.Unlock()
		err = b.port.Close()
		<-b.done
	})
	return err
}

func (b *Bus) readLoop() {
	defer close(b.done)
	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := b.port.Read(buf)
		for _, c := range buf[:n] {
			switch c {
			case '\r':
				b.handleRecord(line)
				line = line[:0]
			case '\a':
				b.logger.Warn("slcan adapter rejected command")
				line = line[:0]
			default:
				line = append(line, c)
			}
		}
		if err != nil {
			select {
			case <-b.closed:
			default:
				b.err = fmt.Errorf("slcan: read: %w", err)
			}
			return
		}
		select {
		case <-b.closed:
			return
		default:
		}
	}
}

func (b *Bus) handleRecord(rec []byte) {
	if len(rec) == 0 {
		return
	}
	switch rec[0] {
	case 't', 'T', 'r', 'R':
	default:
		// z/Z transmit acks, version and status replies.
		return
	}
	f, err := DecodeFrame(rec)
	if err != nil {
		b.logger.Debug("slcan dropping record", "record", string(rec), "error", err)
		return
	}
	select {
	case b.rx <- f:
	default:
		b.logger.Warn("slcan receive queue full, dropping frame", "frame", f.String())
	}
}

// EncodeFrame renders a frame as an SLCAN record terminated by CR.
func EncodeFrame(f canbus.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	switch {
	case f.Extended && f.RTR:
		fmt.Fprintf(&b, "R%08X%d", f.ID, f.Len)
	case f.Extended:
		fmt.Fprintf(&b, "T%08X%d", f.ID, f.Len)
	case f.RTR:
		fmt.Fprintf(&b, "r%03X%d", f.ID, f.Len)
	default:
		fmt.Fprintf(&b, "t%03X%d", f.ID, f.Len)
	}
	if !f.RTR {
		for _, c := range f.Payload() {
			fmt.Fprintf(&b, "%02X", c)
		}
	}
	b.WriteByte('\r')
	return b.Bytes(), nil
}

// DecodeFrame parses a single record without its CR terminator.
func DecodeFrame(rec []byte) (canbus.Frame, error) {
	var f canbus.Frame
	if len(rec) == 0 {
		return f, ErrRecord
	}
	idLen := 3
	switch rec[0] {
	case 't':
	case 'r':
		f.RTR = true
	case 'T':
		idLen, f.Extended = 8, true
	case 'R':
		idLen, f.Extended, f.RTR = 8, true, true
	default:
		return f, fmt.Errorf("%w: type %q", ErrRecord, rec[0])
	}
	if len(rec) < 1+idLen+1 {
		return f, fmt.Errorf("%w: too short", ErrRecord)
	}
	id, err := strconv.ParseUint(string(rec[1:1+idLen]), 16, 32)
	if err != nil {
		return f, fmt.Errorf("%w: id: %v", ErrRecord, err)
	}
	f.ID = uint32(id)
	dlc := rec[1+idLen]
	if dlc < '0' || dlc > '8' {
		return f, fmt.Errorf("%w: length %q", ErrRecord, dlc)
	}
	f.Len = dlc - '0'
	data := rec[2+idLen:]
	if f.RTR {
		if len(data) != 0 {
			return f, fmt.Errorf("%w: remote frame with data", ErrRecord)
		}
		return f, validate(f)
	}
	if len(data) != int(f.Len)*2 {
		return f, fmt.Errorf("%w: want %d data digits, got %d", ErrRecord, int(f.Len)*2, len(data))
	}
	for i := 0; i < int(f.Len); i++ {
		v, err := strconv.ParseUint(string(data[2*i:2*i+2]), 16, 8)
		if err != nil {
			return f, fmt.Errorf("%w: data: %v", ErrRecord, err)
		}
		f.Data[i] = byte(v)
	}
	return f, validate(f)
}

func validate(f canbus.Frame) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrRecord, err)
	}
	return nil
}
