//go:build linux

package canbus

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// socketPair returns a socketCAN over one end of a packet socket pair and the
// raw descriptor of the other end.
func socketPair(t *testing.T) (*socketCAN, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Skipf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("nonblock: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })
	return newSocketCAN(fds[0], "pair"), fds[1]
}

func TestSocketCAN_SendReceive(t *testing.T) {
	s, peer := socketPair(t)
	defer s.Close()

	in := MustFrame(0x123, []byte{0xDE, 0xAD})
	raw, _ := in.MarshalBinary()
	if _, err := unix.Write(peer, raw); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got.ID != 0x123 || !bytes.Equal(got.Payload(), []byte{0xDE, 0xAD}) {
		t.Fatalf("got %v", got)
	}

	if err := s.Send(ctx, MustFrame(0x7FF, []byte{1})); err != nil {
		t.Fatalf("send: %v", err)
	}
	buf := make([]byte, 16)
	if n, err := unix.Read(peer, buf); err != nil || n != 16 {
		t.Fatalf("peer read n=%d err=%v", n, err)
	}
	var out Frame
	if err := out.UnmarshalBinary(buf); err != nil || out.ID != 0x7FF || out.Len != 1 {
		t.Fatalf("peer got %v err=%v", out, err)
	}
}

func TestSocketCAN_CloseUnblocksReceive(t *testing.T) {
	s, _ := socketPair(t)

	done := make(chan error, 1)
	go func() {
		_, err := s.Receive(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("receive after close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("receive still blocked after close")
	}
	if err := s.Send(context.Background(), MustFrame(0x1, nil)); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSocketCAN_ReceiveHonorsContext(t *testing.T) {
	s, _ := socketPair(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := s.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
