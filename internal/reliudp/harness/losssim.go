// Package harness provides test-only collaborators that sit beside the
// core transport: a seedable loss simulator and a pacing limiter for
// exercising recovery behavior deterministically.
package harness

import (
	"math/rand"
	"sync"

	"golang.org/x/time/rate"
)

// LossSimulator decides, for each inbound DATA segment, whether the
// receive path should simulate a drop and reply with a duplicate ACK
// instead of delivering the segment. It is configured at construction time
// rather than mutated post-hoc, and takes a PRNG seed so tests can make
// the drop sequence deterministic.
type LossSimulator struct {
	mu   sync.Mutex
	rate float64
	rng  *rand.Rand
}

// NewLossSimulator returns a simulator that drops a fraction `rate` of
// segments (0 disables simulation entirely). seed seeds the PRNG so test
// runs are reproducible.
func NewLossSimulator(lossRate float64, seed int64) *LossSimulator {
	if lossRate < 0 {
		lossRate = 0
	}
	if lossRate > 1 {
		lossRate = 1
	}
	return &LossSimulator{
		rate: lossRate,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// ShouldDrop draws uniformly from [0, 1) and reports whether the current
// segment should be simulated as lost.
func (l *LossSimulator) ShouldDrop() bool {
	if l.rate <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64() < l.rate
}

// Rate returns the configured drop probability.
func (l *LossSimulator) Rate() float64 {
	return l.rate
}

// Pacer throttles outbound datagrams to a configured rate, for reproducing
// bandwidth-constrained conditions without relying on real network
// conditions. The seed scenarios in tools/scenarios do not use it; S3
// delays the receiver with a sleep instead.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a pacer allowing burst datagrams immediately and
// refilling at segmentsPerSecond thereafter. A non-positive rate disables
// throttling.
func NewPacer(segmentsPerSecond float64, burst int) *Pacer {
	if segmentsPerSecond <= 0 {
		return &Pacer{limiter: nil}
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(segmentsPerSecond), burst)}
}

// Allow reports whether one segment may be sent right now without blocking.
func (p *Pacer) Allow() bool {
	if p.limiter == nil {
		return true
	}
	return p.limiter.Allow()
}
