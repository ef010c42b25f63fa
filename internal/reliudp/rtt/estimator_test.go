package rtt

import (
	"testing"
	"time"
)

func TestDefaultRTOBeforeFirstSample(t *testing.T) {
	e := New()
	if e.RTO() != DefaultRTO {
		t.Errorf("expected default RTO %v, got %v", DefaultRTO, e.RTO())
	}
	if e.Measurements() != 0 {
		t.Errorf("expected 0 measurements, got %d", e.Measurements())
	}
}

func TestFirstSampleSetsSRTTDirectly(t *testing.T) {
	e := New()
	e.Sample(200 * time.Millisecond)

	if e.SRTT() != 200*time.Millisecond {
		t.Errorf("expected srtt == sample on first measurement, got %v", e.SRTT())
	}
	if e.Measurements() != 1 {
		t.Errorf("expected 1 measurement, got %d", e.Measurements())
	}
}

func TestRTOBoundsAreRespected(t *testing.T) {
	e := New()
	e.Sample(1 * time.Microsecond)
	if e.RTO() < MinRTO {
		t.Errorf("RTO %v should be clamped to at least %v", e.RTO(), MinRTO)
	}

	e2 := New()
	e2.Sample(100 * time.Second)
	if e2.RTO() > MaxRTO {
		t.Errorf("RTO %v should be clamped to at most %v", e2.RTO(), MaxRTO)
	}
}

func TestRTOConvergesWithStableSamples(t *testing.T) {
	e := New()
	for i := 0; i < 20; i++ {
		e.Sample(50 * time.Millisecond)
	}

	// With a stable RTT, rttvar should shrink and RTO should approach the
	// sample value plus the variation floor rather than drift upward.
	if e.RTO() > 200*time.Millisecond {
		t.Errorf("expected RTO to settle near the stable sample, got %v", e.RTO())
	}
}
