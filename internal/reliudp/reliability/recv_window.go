package reliability

import (
	"sync"

	"github.com/flowudp/flowudp/internal/reliudp/protocol"
)

// DefaultMaxWindowSegments bounds the reassembly buffer's advertised
// capacity when the caller does not override it.
const DefaultMaxWindowSegments = 64

// RecvWindow is the receiver-side reassembly buffer: out-of-order arrivals
// are held keyed by sequence number until expected catches up to them.
type RecvWindow struct {
	mu       sync.Mutex
	buffered map[uint32][]byte
	expected uint32

	maxWindowSegments uint32

	duplicates  uint64
	outOfOrder  uint64
	delivered   uint64
}

// NewRecvWindow returns a receive window expecting isn as the first
// in-order byte, with a reassembly capacity of maxWindowSegments segments.
func NewRecvWindow(isn uint32, maxWindowSegments uint32) *RecvWindow {
	if maxWindowSegments == 0 {
		maxWindowSegments = DefaultMaxWindowSegments
	}
	return &RecvWindow{
		buffered:          make(map[uint32][]byte),
		expected:          isn,
		maxWindowSegments: maxWindowSegments,
	}
}

// Expected returns the next in-order sequence number the window awaits.
func (r *RecvWindow) Expected() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expected
}

// OnData folds one DATA segment into the window. deliver holds, in order,
// every payload now ready for hand-off to the application (possibly more
// than one, if buffered out-of-order segments became contiguous). dup
// reports whether seq differed from expected: either ahead of it (buffered
// out-of-order data) or behind it (a stale repeat, discarded). In both
// cases expected is unchanged, so the caller's cumulative ACK is a
// duplicate.
func (r *RecvWindow) OnData(seq uint32, payload []byte) (deliver [][]byte, dup bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case seq == r.expected:
		if len(payload) > 0 {
			deliver = append(deliver, payload)
			r.delivered++
		}
		r.expected += uint32(len(payload))

		for {
			next, ok := r.buffered[r.expected]
			if !ok {
				break
			}
			delete(r.buffered, r.expected)
			deliver = append(deliver, next)
			r.delivered++
			r.expected += uint32(len(next))
		}
		return deliver, false

	case seq > r.expected:
		if _, exists := r.buffered[seq]; !exists {
			r.buffered[seq] = payload
		}
		r.outOfOrder++
		return nil, true

	default: // seq < expected: stale retransmission
		r.duplicates++
		return nil, true
	}
}

// BufferUsage returns the total payload bytes currently held for
// out-of-order reassembly.
func (r *RecvWindow) BufferUsage() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	usage := 0
	for _, payload := range r.buffered {
		usage += len(payload)
	}
	return usage
}

// AdvertisedWindow computes the receiver's current advertised window, in
// segments: max(1, floor((capacity - buffer_usage) / MAX_PAYLOAD_SIZE)),
// where capacity = maxWindowSegments * MAX_PAYLOAD_SIZE.
func (r *RecvWindow) AdvertisedWindow() uint32 {
	r.mu.Lock()
	usage := 0
	for _, payload := range r.buffered {
		usage += len(payload)
	}
	capacity := r.maxWindowSegments * protocol.MaxPayloadSize
	r.mu.Unlock()

	if uint32(usage) >= capacity {
		return 1
	}
	segments := (capacity - uint32(usage)) / protocol.MaxPayloadSize
	if segments < 1 {
		segments = 1
	}
	return segments
}

// Stats returns duplicate, out-of-order and delivered segment counters for
// observability.
func (r *RecvWindow) Stats() (duplicates, outOfOrder, delivered uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duplicates, r.outOfOrder, r.delivered
}
