package endpoint

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/flowudp/flowudp/internal/reliudp/harness"
	"github.com/flowudp/flowudp/internal/reliudp/reliability"
)

func TestEndToEndLoopbackTransfer(t *testing.T) {
	receiver, err := NewReceiver("127.0.0.1:0", nil, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	defer receiver.Close()

	addr := receiver.ep.Conn.LocalAddr().String()

	sender, err := NewSender(addr, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	input := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 750) // 3000 bytes

	serverDone := make(chan error, 1)
	var output bytes.Buffer
	go func() {
		if err := receiver.Accept(context.Background()); err != nil {
			serverDone <- err
			return
		}
		serverDone <- receiver.ReceiveStream(context.Background(), &output)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sender.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sender.SendStream(ctx, bytes.NewReader(input)); err != nil {
		t.Fatalf("SendStream: %v", err)
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("receiver: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for receiver to finish")
	}

	if !bytes.Equal(output.Bytes(), input) {
		t.Errorf("output mismatch: got %d bytes, want %d bytes", output.Len(), len(input))
	}

	if cwnd := sender.ep.Congestion.Cwnd(); cwnd < 4 {
		t.Errorf("expected cwnd to have grown to at least 4 after a loss-free transfer, got %v", cwnd)
	}
}

func TestEndToEndZeroByteTransfer(t *testing.T) {
	receiver, err := NewReceiver("127.0.0.1:0", nil, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	defer receiver.Close()

	addr := receiver.ep.Conn.LocalAddr().String()

	sender, err := NewSender(addr, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	serverDone := make(chan error, 1)
	var output bytes.Buffer
	go func() {
		if err := receiver.Accept(context.Background()); err != nil {
			serverDone <- err
			return
		}
		serverDone <- receiver.ReceiveStream(context.Background(), &output)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sender.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sender.SendStream(ctx, bytes.NewReader(nil)); err != nil {
		t.Fatalf("SendStream: %v", err)
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("receiver: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for receiver to finish")
	}

	if output.Len() != 0 {
		t.Errorf("expected zero-byte output, got %d bytes", output.Len())
	}
}

func TestHandshakeFailsWithNoServer(t *testing.T) {
	deadServer, err := NewReceiver("127.0.0.1:0", nil, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	addr := deadServer.ep.Conn.LocalAddr().String()
	deadServer.Close() // nothing listens at addr anymore

	sender, err := NewSender(addr, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	if err := sender.Connect(ctx); err != ErrHandshakeFailed {
		t.Errorf("expected ErrHandshakeFailed, got %v", err)
	}
}

func TestFullLossSimulationExhaustsRetries(t *testing.T) {
	lossSim := harness.NewLossSimulator(1.0, 7) // always simulate a drop

	receiver, err := NewReceiver("127.0.0.1:0", lossSim, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	defer receiver.Close()

	addr := receiver.ep.Conn.LocalAddr().String()
	sender, err := NewSender(addr, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()
	go func() {
		if err := receiver.Accept(serverCtx); err != nil {
			return
		}
		var discard bytes.Buffer
		receiver.ReceiveStream(serverCtx, &discard)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := sender.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sender.SendStream(ctx, bytes.NewReader(make([]byte, 50))); err != ErrConnectionBroken {
		t.Errorf("expected ErrConnectionBroken under total loss, got %v", err)
	}

	if retries := sender.sw.BaseRetries(); retries != DefaultOptions().MaxRetries {
		t.Errorf("expected exactly MaxRetries (%d) retransmissions of the base segment, got %d", DefaultOptions().MaxRetries, retries)
	}
}

// TestRetransmitBaseNeverExceedsMaxRetriesOnWire drives retransmitBase
// directly against a tiny MaxRetries so the (MaxRetries+1)th retransmission
// attempt can be observed refusing to build a packet, rather than waiting
// out real RTOs to reach the default of 10.
func TestRetransmitBaseNeverExceedsMaxRetriesOnWire(t *testing.T) {
	receiver, err := NewReceiver("127.0.0.1:0", nil, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	defer receiver.Close()

	addr := receiver.ep.Conn.LocalAddr().String()
	opts := DefaultOptions()
	opts.MaxRetries = 2
	sender, err := NewSender(addr, nil, opts)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	sender.sw = reliability.NewSendWindow(sender.ep.ISN)
	sender.sw.AddSegment([]byte("x"), 0, 10)

	sends := 0
	for i := 0; i < 10; i++ {
		if broken := sender.retransmitBase(); broken {
			break
		}
		sends++
	}
	if sends != opts.MaxRetries {
		t.Errorf("expected exactly %d retransmissions on the wire before giving up, got %d", opts.MaxRetries, sends)
	}
	if got := sender.sw.BaseRetries(); got != opts.MaxRetries {
		t.Errorf("expected retry counter to stop at %d, got %d", opts.MaxRetries, got)
	}
}
