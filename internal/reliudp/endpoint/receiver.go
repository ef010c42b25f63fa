package endpoint

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/flowudp/flowudp/internal/reliudp/harness"
	"github.com/flowudp/flowudp/internal/reliudp/metrics"
	"github.com/flowudp/flowudp/internal/reliudp/protocol"
	"github.com/flowudp/flowudp/internal/reliudp/reliability"
	"github.com/flowudp/flowudp/internal/reliudp/tracing"
	"github.com/flowudp/flowudp/internal/reliudp/transport"
)

// ErrNoHandshake is returned if ReceiveStream is called before a
// successful Accept.
var ErrNoHandshake = errors.New("endpoint: receive attempted before handshake")

// Receiver drives the server side of a connection: awaiting the
// handshake, steady-state reassembly, and best-effort teardown.
type Receiver struct {
	ep *Endpoint
	rw *reliability.RecvWindow

	lossSim *harness.LossSimulator

	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// localWindowSegments is the receiver's own advertised window reported
// during the handshake, before the reassembly buffer (and thus its own
// advertised-window computation) exists.
func (r *Receiver) localWindowSegments() uint16 {
	return uint16(r.ep.Opts.MaxWindowSegments)
}

// NewReceiver binds a UDP socket at listenAddr. lossSim may be nil to
// disable the drop-and-duplicate-ACK test hook entirely. opts configures
// retry/timeout/window tunables; pass DefaultOptions() to get the wire
// specification's own constants.
func NewReceiver(listenAddr string, lossSim *harness.LossSimulator, logger *zap.Logger, opts Options) (*Receiver, error) {
	conn, err := transport.Listen(listenAddr)
	if err != nil {
		return nil, err
	}
	ep := newShared(conn, logger, opts)
	return &Receiver{ep: ep, lossSim: lossSim}, nil
}

// Accept blocks until a client completes the three-way handshake. It loops
// indefinitely across failed handshake attempts (a never-finished ACK
// resets listening, per the reference server's recovery behavior), so
// callers that want a bound should cancel ctx.
func (r *Receiver) Accept(ctx context.Context) error {
	if r.Tracer != nil {
		_, span := r.Tracer.StartHandshake(ctx)
		defer span.End()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkt, from, err := r.ep.Conn.ReceiveWithTimeout(time.Second)
		if err != nil {
			return err
		}
		if pkt == nil || pkt.Type != protocol.Syn || pkt.AckNum != 0 {
			continue
		}

		r.ep.Conn.SetRemoteAddr(from)
		expected := pkt.SeqNum + 1
		r.ep.State = StateSynReceived

		synAck := protocol.New(r.ep.ISN, expected, protocol.Syn, r.localWindowSegments(), nil)
		if err := r.ep.Conn.SendTo(synAck, from); err != nil {
			return err
		}

		ackPkt, ackFrom, err := r.ep.Conn.ReceiveWithTimeout(r.ep.Opts.HandshakeTimeout)
		if err != nil {
			return err
		}
		if ackPkt == nil || ackPkt.Type != protocol.Ack || !sameAddr(ackFrom, from) {
			r.ep.Logger.Warn("handshake ACK not received in time, resuming listen")
			continue
		}

		r.rw = reliability.NewRecvWindow(expected, r.ep.Opts.MaxWindowSegments)
		r.ep.State = StateEstablished
		r.ep.Logger.Info("handshake established", zap.Uint32("client_isn", pkt.SeqNum))
		return nil
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// ReceiveStream drives inbound DATA segments to w until a FIN arrives or
// the connection idles for IdleTimeout, at which point it closes as if a
// FIN had been received.
func (r *Receiver) ReceiveStream(ctx context.Context, w io.Writer) error {
	if r.rw == nil {
		return ErrNoHandshake
	}
	if r.Tracer != nil {
		_, span := r.Tracer.StartTransfer(ctx)
		defer span.End()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkt, from, err := r.ep.Conn.ReceiveWithTimeout(r.ep.Opts.IdleTimeout)
		if err != nil {
			return err
		}
		if pkt == nil && from != nil {
			continue // malformed datagram: dropped silently
		}
		if pkt == nil {
			r.ep.Logger.Warn("idle timeout, closing connection as if FIN received")
			r.ep.State = StateClosed
			r.logWindowStats()
			return nil
		}
		if !sameAddr(from, r.ep.Conn.RemoteAddr()) {
			continue // datagram from an unexpected peer address: drop
		}

		switch pkt.Type {
		case protocol.Data:
			if err := r.handleData(pkt, from, w); err != nil {
				return err
			}
		case protocol.Fin:
			err := r.handleFin(pkt, from)
			r.logWindowStats()
			return err
		default:
			// unexpected type mid-connection: drop
		}
	}
}

// handleData implements the unified loss-simulation / deliver / ack path:
// a simulated drop still produces a duplicate cumulative ACK, exactly as a
// genuinely lost DATA segment would from the sender's point of view.
func (r *Receiver) handleData(pkt *protocol.Packet, from *net.UDPAddr, w io.Writer) error {
	if r.lossSim != nil && r.lossSim.ShouldDrop() {
		return r.ack(from)
	}

	deliver, _ := r.rw.OnData(pkt.SeqNum, pkt.Payload)
	for _, payload := range deliver {
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if r.Metrics != nil {
			r.Metrics.BytesReceived.Add(float64(len(payload)))
		}
	}
	return r.ack(from)
}

func (r *Receiver) ack(from *net.UDPAddr) error {
	window := r.rw.AdvertisedWindow()
	ackPkt := protocol.New(r.ep.ISN, r.rw.Expected(), protocol.Ack, uint16(window), nil)
	if r.Metrics != nil {
		r.Metrics.AdvertisedWindow.Set(float64(window))
	}
	return r.ep.Conn.SendTo(ackPkt, from)
}

func (r *Receiver) handleFin(pkt *protocol.Packet, from *net.UDPAddr) error {
	if r.Tracer != nil {
		_, span := r.Tracer.StartTeardown(context.Background())
		defer span.End()
	}
	r.ep.State = StateClosed
	finAck := protocol.New(r.ep.ISN, pkt.SeqNum+1, protocol.Fin, r.localWindowSegments(), nil)
	return r.ep.Conn.SendTo(finAck, from)
}

// logWindowStats reports the reassembly buffer's lifetime duplicate,
// out-of-order and delivered-segment counters, once, at stream end.
func (r *Receiver) logWindowStats() {
	duplicates, outOfOrder, delivered := r.rw.Stats()
	r.ep.Logger.Info("reassembly stats",
		zap.Uint64("duplicates", duplicates),
		zap.Uint64("out_of_order", outOfOrder),
		zap.Uint64("delivered", delivered),
	)
}

// LocalAddrString returns the socket's bound local address, useful for
// discovering the ephemeral port chosen when listenAddr specifies port 0.
func (r *Receiver) LocalAddrString() string {
	return r.ep.Conn.LocalAddr().String()
}

// Close releases the underlying socket.
func (r *Receiver) Close() error {
	return r.ep.Conn.Close()
}

// Statistics returns a point-in-time snapshot of socket counters.
func (r *Receiver) Statistics() transport.Statistics {
	return r.ep.Conn.Statistics()
}
