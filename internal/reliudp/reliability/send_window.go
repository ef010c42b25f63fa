// Package reliability implements the sliding send window and the
// out-of-order receive window that sit on top of the packet codec.
package reliability

import (
	"sync"
	"time"

	"github.com/flowudp/flowudp/internal/reliudp/protocol"
)

// sentSegment is one outstanding entry in the send buffer.
type sentSegment struct {
	packet         *protocol.Packet
	sendTime       time.Time
	retries        int
	sampleEligible bool
}

// SendWindow is the sender-side sliding window: a map from sequence number
// to outstanding segment, bounded by base (oldest unacknowledged byte) and
// nextSeq (next byte to assign).
type SendWindow struct {
	mu       sync.Mutex
	segments map[uint32]*sentSegment
	order    []uint32 // ascending sequence order, oldest first
	base     uint32
	nextSeq  uint32

	advertisedWindow uint32 // peer's last advertised window, in segments
}

// NewSendWindow returns a send window whose base and next-sequence both
// start at isn. The sender passes its ISN and queues the SYN there with
// AddControlSegment, so the first DATA byte lands at isn + 1.
func NewSendWindow(isn uint32) *SendWindow {
	return &SendWindow{
		segments:         make(map[uint32]*sentSegment),
		base:             isn,
		nextSeq:          isn,
		advertisedWindow: 1,
	}
}

// Base returns the oldest unacknowledged sequence number.
func (w *SendWindow) Base() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.base
}

// NextSeq returns the next sequence number that will be assigned.
func (w *SendWindow) NextSeq() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}

// InFlightSegments computes packets-in-flight as integer division of the
// byte distance between base and nextSeq by MAX_PAYLOAD_SIZE. This
// under-counts a short tail segment by design; callers must not rely on
// exactness at the tail.
func (w *SendWindow) InFlightSegments() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return (w.nextSeq - w.base) / protocol.MaxPayloadSize
}

// UpdateAdvertisedWindow records the peer's most recently advertised window.
func (w *SendWindow) UpdateAdvertisedWindow(window uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advertisedWindow = window
}

// CanSend reports whether in-flight segments are below the effective
// window given the current congestion window.
func (w *SendWindow) CanSend(effectiveWindow uint32) bool {
	return w.InFlightSegments() < effectiveWindow
}

// AddSegment allocates payload at the current nextSeq, records it in the
// send buffer and advances nextSeq by len(payload). It returns the
// constructed packet ready for transmission and whether this segment
// landed at base (meaning the retransmission timer must be (re)armed).
func (w *SendWindow) AddSegment(payload []byte, ackNum uint32, window uint16) (pkt *protocol.Packet, armTimer bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.nextSeq
	pkt = protocol.New(seq, ackNum, protocol.Data, window, payload)
	now := time.Now()
	w.segments[seq] = &sentSegment{
		packet:         pkt,
		sendTime:       now,
		sampleEligible: true,
	}
	w.order = append(w.order, seq)
	w.nextSeq += uint32(len(payload))

	armTimer = seq == w.base
	return pkt, armTimer
}

// AddControlSegment allocates a one-sequence-number control segment (SYN or
// FIN) at nextSeq, advancing it by exactly one.
func (w *SendWindow) AddControlSegment(typ protocol.Type, ackNum uint32, window uint16) *protocol.Packet {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.nextSeq
	pkt := protocol.New(seq, ackNum, typ, window, nil)
	w.segments[seq] = &sentSegment{packet: pkt, sendTime: time.Now(), sampleEligible: true}
	w.order = append(w.order, seq)
	w.nextSeq++
	return pkt
}

// AdvanceBase processes a cumulative ACK that strictly advances past the
// current base. It returns the RTT sample for the segment that used to sit
// at base, if that segment is still eligible (transmitted exactly once),
// and whether the timer should remain armed (base < nextSeq after the
// advance).
func (w *SendWindow) AdvanceBase(ack uint32, advertisedWindow uint32) (sample time.Duration, hasSample bool, timerArmed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ack <= w.base {
		return 0, false, w.base < w.nextSeq
	}

	if oldest, ok := w.segments[w.base]; ok && oldest.sampleEligible {
		sample = time.Since(oldest.sendTime)
		hasSample = true
	}

	w.base = ack
	w.advertisedWindow = advertisedWindow

	kept := w.order[:0]
	for _, seq := range w.order {
		if seq < w.base {
			delete(w.segments, seq)
			continue
		}
		kept = append(kept, seq)
	}
	w.order = kept

	timerArmed = w.base < w.nextSeq
	return sample, hasSample, timerArmed
}

// RetransmitBase rebuilds and returns the segment currently at base with a
// freshly supplied advertised window, refreshes its send timestamp,
// increments its retry count and clears its RTT-sample eligibility per
// Karn's rule. ok is false if the send buffer is empty (nothing to
// retransmit) or if the segment has already been retransmitted maxRetries
// times — in that case nothing is built or sent, and the caller must treat
// the refusal as the connection being broken, matching the reference
// client's check-before-send ordering (it never puts the (maxRetries+1)th
// copy of a segment on the wire).
func (w *SendWindow) RetransmitBase(window uint16, maxRetries int) (pkt *protocol.Packet, retries int, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg, found := w.segments[w.base]
	if !found {
		return nil, 0, false
	}
	if seg.retries >= maxRetries {
		return nil, seg.retries, false
	}

	seg.retries++
	seg.sendTime = time.Now()
	seg.sampleEligible = false
	seg.packet = protocol.New(seg.packet.SeqNum, seg.packet.AckNum, seg.packet.Type, window, seg.packet.Payload)

	return seg.packet, seg.retries, true
}

// BaseRetries returns the retry count of the segment currently at base, or
// 0 if the buffer is empty.
func (w *SendWindow) BaseRetries() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seg, ok := w.segments[w.base]; ok {
		return seg.retries
	}
	return 0
}

// Empty reports whether every transmitted byte has been acknowledged.
func (w *SendWindow) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.base == w.nextSeq
}

// AdvertisedWindow returns the peer's last known advertised window.
func (w *SendWindow) AdvertisedWindow() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.advertisedWindow
}
