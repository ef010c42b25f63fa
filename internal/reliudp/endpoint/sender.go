package endpoint

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/flowudp/flowudp/internal/reliudp/metrics"
	"github.com/flowudp/flowudp/internal/reliudp/protocol"
	"github.com/flowudp/flowudp/internal/reliudp/reliability"
	"github.com/flowudp/flowudp/internal/reliudp/tracing"
	"github.com/flowudp/flowudp/internal/reliudp/transport"
)

// ErrHandshakeFailed is returned when the client's SYN goes unanswered
// within HandshakeTimeout.
var ErrHandshakeFailed = errors.New("endpoint: handshake failed")

// ErrConnectionBroken is returned when the base segment has been
// retransmitted MaxRetries times without a cumulative ACK advancing.
var ErrConnectionBroken = errors.New("endpoint: connection broken, max retries exceeded")

// Sender drives the client side of a connection: handshake, steady-state
// data transfer, and best-effort teardown.
type Sender struct {
	ep *Endpoint
	sw *reliability.SendWindow

	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// localWindowSegments is the sender's own advertised receive window,
// reported during the handshake and teardown; the sender never accepts
// inbound DATA, so any non-zero value satisfies flow control on the
// server's side.
func (s *Sender) localWindowSegments() uint16 {
	return uint16(s.ep.Opts.MaxWindowSegments)
}

// NewSender dials remoteAddr and prepares (but does not yet perform) the
// handshake. opts configures retry/timeout/window tunables; pass
// DefaultOptions() to get the wire specification's own constants.
func NewSender(remoteAddr string, logger *zap.Logger, opts Options) (*Sender, error) {
	conn, err := transport.Dial(remoteAddr)
	if err != nil {
		return nil, err
	}
	ep := newShared(conn, logger, opts)
	return &Sender{ep: ep}, nil
}

// Connect performs the three-way handshake. On success the send window is
// positioned at ISN_c + 1, ready for the first DATA byte.
func (s *Sender) Connect(ctx context.Context) error {
	if s.Tracer != nil {
		_, span := s.Tracer.StartHandshake(ctx)
		defer span.End()
	}

	s.sw = reliability.NewSendWindow(s.ep.ISN)
	synPkt := s.sw.AddControlSegment(protocol.Syn, 0, s.localWindowSegments())
	s.ep.State = StateSynSent

	s.ep.Logger.Info("sending SYN", zap.Uint32("isn", s.ep.ISN))

	deadline := time.Now().Add(s.ep.Opts.HandshakeTimeout)
	for {
		if time.Now().After(deadline) {
			return ErrHandshakeFailed
		}
		if err := s.ep.Conn.Send(synPkt); err != nil {
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrHandshakeFailed
		}
		waitFor := remaining
		if waitFor > time.Second {
			waitFor = time.Second
		}

		pkt, _, err := s.ep.Conn.ReceiveWithTimeout(waitFor)
		if err != nil {
			return err
		}
		if pkt == nil {
			continue // nothing arrived within this slice of the deadline; resend SYN
		}
		if pkt.Type != protocol.Syn || pkt.AckNum == 0 {
			continue // unexpected type during handshake: ignore and keep listening
		}

		expected := pkt.SeqNum + 1
		ackPkt := protocol.New(s.ep.ISN, expected, protocol.Ack, s.localWindowSegments(), nil)
		if err := s.ep.Conn.Send(ackPkt); err != nil {
			return err
		}
		// The SYN-ACK acknowledges the SYN: move base past it so the first
		// DATA byte sits at ISN_c + 1 and the SYN is never retransmitted.
		s.sw.AdvanceBase(s.sw.NextSeq(), uint32(pkt.Window))
		s.ep.Congestion.SetLastAck(s.sw.NextSeq())
		s.ep.State = StateEstablished
		s.ep.Logger.Info("handshake established", zap.Uint32("server_isn", pkt.SeqNum))
		return nil
	}
}

// SendStream drives r to completion: every byte is transmitted and
// cumulatively acknowledged, or the connection is declared broken.
func (s *Sender) SendStream(ctx context.Context, r io.Reader) error {
	if s.Tracer != nil {
		_, span := s.Tracer.StartTransfer(ctx)
		defer span.End()
	}

	br := bufio.NewReaderSize(r, protocol.MaxPayloadSize)
	eof := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.fillWindow(br, &eof)

		if eof && s.sw.Empty() {
			return s.teardown()
		}

		pkt, _, err := s.ep.Conn.ReceiveWithTimeout(s.ep.RTT.RTO())
		if err != nil {
			return err
		}

		if pkt != nil && pkt.Type == protocol.Ack {
			if broken := s.onAck(pkt); broken {
				return ErrConnectionBroken
			}
			continue
		}

		if broken := s.onTimeout(); broken {
			return ErrConnectionBroken
		}
	}
}

// fillWindow reads as many segments as the effective window permits and
// transmits them.
func (s *Sender) fillWindow(br *bufio.Reader, eof *bool) {
	for !*eof {
		effective := s.ep.Congestion.EffectiveWindow(s.sw.AdvertisedWindow())
		if !s.sw.CanSend(effective) {
			return
		}

		buf := make([]byte, protocol.MaxPayloadSize)
		n, err := io.ReadFull(br, buf)
		if n == 0 {
			if err == io.EOF {
				*eof = true
			}
			return
		}
		buf = buf[:n]

		pkt, _ := s.sw.AddSegment(buf, 0, s.localWindowSegments())

		if s.Metrics != nil {
			s.Metrics.BytesSent.Add(float64(n))
		}

		if sendErr := s.ep.Conn.Send(pkt); sendErr != nil {
			s.ep.Logger.Warn("send failed", zap.Error(sendErr))
		}

		if err == io.ErrUnexpectedEOF || err == io.EOF {
			*eof = true
			return
		}
	}
}

// onAck folds one inbound ACK into the send window, congestion controller
// and RTT estimator. It returns true if the connection should be declared
// broken.
func (s *Sender) onAck(pkt *protocol.Packet) (broken bool) {
	isNew, _, fastRetransmit := s.ep.Congestion.OnAckReceived(pkt.AckNum)

	if isNew {
		sample, hasSample, _ := s.sw.AdvanceBase(pkt.AckNum, uint32(pkt.Window))
		if hasSample {
			s.ep.RTT.Sample(sample)
		}
		s.reportGauges(pkt.Window)
		return false
	}

	s.sw.UpdateAdvertisedWindow(uint32(pkt.Window))
	if s.Metrics != nil {
		s.Metrics.DuplicateAcks.Inc()
	}
	if fastRetransmit {
		if s.Metrics != nil {
			s.Metrics.FastRetransmits.Inc()
			s.Metrics.Retransmissions.Inc()
		}
		return s.retransmitBase()
	}
	return false
}

// onTimeout handles an RTO expiry: the congestion controller resets and
// the base segment is retransmitted.
func (s *Sender) onTimeout() (broken bool) {
	if s.sw.Empty() {
		return false
	}

	s.ep.Congestion.OnTimeout()
	if s.Metrics != nil {
		s.Metrics.Timeouts.Inc()
		s.Metrics.Retransmissions.Inc()
		s.Metrics.Cwnd.Set(s.ep.Congestion.Cwnd())
		s.Metrics.Ssthresh.Set(s.ep.Congestion.Ssthresh())
	}

	return s.retransmitBase()
}

// retransmitBase rebuilds and resends the segment currently at base. It
// refuses (and reports broken) once the segment has already been sent
// MaxRetries times, so the (MaxRetries+1)th copy never reaches the wire —
// matching the reference client's check-before-send ordering.
func (s *Sender) retransmitBase() (broken bool) {
	pkt, retries, ok := s.sw.RetransmitBase(s.localWindowSegments(), s.ep.Opts.MaxRetries)
	if !ok {
		return retries >= s.ep.Opts.MaxRetries
	}
	if err := s.ep.Conn.Send(pkt); err != nil {
		s.ep.Logger.Warn("retransmit failed", zap.Error(err))
	}
	return false
}

func (s *Sender) reportGauges(advertisedWindow uint16) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.Cwnd.Set(s.ep.Congestion.Cwnd())
	s.Metrics.Ssthresh.Set(s.ep.Congestion.Ssthresh())
	s.Metrics.SRTT.Set(s.ep.RTT.SRTT().Seconds())
	s.Metrics.RTO.Set(s.ep.RTT.RTO().Seconds())
	s.Metrics.AdvertisedWindow.Set(float64(advertisedWindow))
}

// teardown sends a FIN and waits up to TeardownTimeout for a FIN reply,
// closing the connection regardless of whether one arrives.
func (s *Sender) teardown() error {
	if s.Tracer != nil {
		_, span := s.Tracer.StartTeardown(context.Background())
		defer span.End()
	}

	s.ep.State = StateFinSent
	finPkt := s.sw.AddControlSegment(protocol.Fin, 0, s.localWindowSegments())
	if err := s.ep.Conn.Send(finPkt); err != nil {
		s.ep.Logger.Warn("FIN send failed", zap.Error(err))
	}

	deadline := time.Now().Add(s.ep.Opts.TeardownTimeout)
	for time.Now().Before(deadline) {
		pkt, _, err := s.ep.Conn.ReceiveWithTimeout(time.Until(deadline))
		if err != nil {
			break
		}
		if pkt != nil && pkt.Type == protocol.Fin {
			s.ep.Logger.Info("teardown acknowledged")
			break
		}
	}
	s.ep.State = StateClosed
	return s.ep.Conn.Close()
}

// CongestionCwnd returns the current congestion window, in segments.
func (s *Sender) CongestionCwnd() float64 {
	return s.ep.Congestion.Cwnd()
}

// InFlightSegments returns the number of segments sent but not yet
// cumulatively acknowledged.
func (s *Sender) InFlightSegments() uint32 {
	return s.sw.InFlightSegments()
}

// Close releases the underlying socket without attempting teardown.
func (s *Sender) Close() error {
	return s.ep.Conn.Close()
}

// Statistics returns a point-in-time snapshot of socket counters.
func (s *Sender) Statistics() transport.Statistics {
	return s.ep.Conn.Statistics()
}
