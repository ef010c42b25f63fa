// Package congestion implements the TCP-style congestion controller: slow
// start, congestion avoidance, fast retransmit/recovery and the timeout
// reset.
package congestion

import "sync"

const (
	// InitialCwnd is the starting congestion window, in segments.
	InitialCwnd = 1.0

	// InitialSsthresh is the starting slow-start threshold, in segments.
	InitialSsthresh = 64.0

	// MaxWindowSegments bounds both cwnd and the effective window.
	MaxWindowSegments = 128

	// FastRetransmitThreshold is the duplicate-ACK count that triggers
	// fast retransmit / fast recovery.
	FastRetransmitThreshold = 3
)

// Phase names the congestion-control regime for logging.
type Phase string

const (
	SlowStart          Phase = "SLOW_START"
	CongestionAvoidance Phase = "CONGESTION_AVOIDANCE"
	FastRecovery        Phase = "FAST_RECOVERY"
)

// Controller tracks cwnd, ssthresh and duplicate-ACK state for one
// connection. It has no notion of sequence numbers; callers decide, from
// their own send-window state, whether an ACK advanced the base.
type Controller struct {
	mu              sync.Mutex
	cwnd            float64
	ssthresh        float64
	dupAcks         int
	lastAck         uint32
	inFastRecovery  bool
}

// New returns a controller initialized per the spec's Congestion State.
func New() *Controller {
	return &Controller{
		cwnd:     InitialCwnd,
		ssthresh: InitialSsthresh,
	}
}

// OnAckReceived folds a cumulative ACK into the controller. isNew reports
// whether ack advanced past the previously observed cumulative ACK.
// dupCount is the running count of consecutive duplicate ACKs observed at
// the current lastAck; fastRetransmit is true exactly on the ACK that first
// reaches FastRetransmitThreshold duplicates.
func (c *Controller) OnAckReceived(ack uint32) (isNew bool, dupCount int, fastRetransmit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ack > c.lastAck {
		c.dupAcks = 0
		c.inFastRecovery = false

		if c.cwnd < c.ssthresh {
			c.cwnd += 1
		} else {
			c.cwnd += 1 / c.cwnd
		}
		if c.cwnd > MaxWindowSegments {
			c.cwnd = MaxWindowSegments
		}
		c.lastAck = ack
		return true, 0, false
	}

	c.dupAcks++
	if c.dupAcks == FastRetransmitThreshold && !c.inFastRecovery {
		c.ssthresh = max(c.cwnd/2, 2)
		c.cwnd = c.ssthresh + 3
		c.inFastRecovery = true
		return false, c.dupAcks, true
	}
	if c.inFastRecovery {
		c.cwnd += 1
		if c.cwnd > MaxWindowSegments {
			c.cwnd = MaxWindowSegments
		}
	}
	return false, c.dupAcks, false
}

// OnTimeout applies the timeout-driven congestion reset.
func (c *Controller) OnTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ssthresh = max(c.cwnd/2, 2)
	c.cwnd = InitialCwnd
	c.dupAcks = 0
	c.inFastRecovery = false
}

// SetLastAck seeds the controller's notion of the last cumulative ACK seen,
// used once at connection setup so the first real ACK after the handshake
// is evaluated against the post-handshake base rather than zero.
func (c *Controller) SetLastAck(ack uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAck = ack
}

// EffectiveWindow returns min(floor(cwnd), advertised, MaxWindowSegments).
func (c *Controller) EffectiveWindow(advertised uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return effectiveWindow(c.cwnd, advertised)
}

func effectiveWindow(cwnd float64, advertised uint32) uint32 {
	w := uint32(cwnd)
	if advertised < w {
		w = advertised
	}
	if w > MaxWindowSegments {
		w = MaxWindowSegments
	}
	return w
}

// Cwnd returns the current congestion window in segments.
func (c *Controller) Cwnd() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwnd
}

// Ssthresh returns the current slow-start threshold in segments.
func (c *Controller) Ssthresh() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ssthresh
}

// InFastRecovery reports whether the controller is in fast recovery.
func (c *Controller) InFastRecovery() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFastRecovery
}

// DuplicateAcks returns the current duplicate-ACK count.
func (c *Controller) DuplicateAcks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dupAcks
}

// PhaseName reports the current regime for logging/metrics.
func (c *Controller) PhaseName() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.inFastRecovery:
		return FastRecovery
	case c.cwnd < c.ssthresh:
		return SlowStart
	default:
		return CongestionAvoidance
	}
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
