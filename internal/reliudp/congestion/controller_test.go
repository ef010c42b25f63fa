package congestion

import "testing"

func TestSlowStartGrowsCwndByOnePerAck(t *testing.T) {
	c := New()
	if c.Cwnd() != InitialCwnd {
		t.Fatalf("expected initial cwnd %v, got %v", InitialCwnd, c.Cwnd())
	}

	isNew, dup, fr := c.OnAckReceived(1)
	if !isNew || dup != 0 || fr {
		t.Fatalf("unexpected ack result: isNew=%v dup=%d fr=%v", isNew, dup, fr)
	}
	if c.Cwnd() != InitialCwnd+1 {
		t.Errorf("expected cwnd to grow by 1 in slow start, got %v", c.Cwnd())
	}
	if c.PhaseName() != SlowStart {
		t.Errorf("expected SLOW_START, got %v", c.PhaseName())
	}
}

func TestCongestionAvoidanceGrowsSublinearly(t *testing.T) {
	c := New()
	c.ssthresh = 2
	c.cwnd = 2

	c.OnAckReceived(1)
	if c.PhaseName() != CongestionAvoidance {
		t.Errorf("expected CONGESTION_AVOIDANCE once cwnd >= ssthresh, got %v", c.PhaseName())
	}
	want := 2 + 1.0/2.0
	if c.Cwnd() != want {
		t.Errorf("expected cwnd %v after one CA ack, got %v", want, c.Cwnd())
	}
}

func TestThirdDuplicateAckTriggersFastRecovery(t *testing.T) {
	c := New()
	c.cwnd = 20
	c.lastAck = 5

	c.OnAckReceived(5)
	c.OnAckReceived(5)
	isNew, dup, fr := c.OnAckReceived(5)

	if isNew {
		t.Error("duplicate ack should not be reported as new")
	}
	if dup != 3 {
		t.Errorf("expected dup count 3, got %d", dup)
	}
	if !fr {
		t.Error("expected fast retransmit to trigger on third duplicate ack")
	}
	if !c.InFastRecovery() {
		t.Error("expected controller to enter fast recovery")
	}
	if c.Ssthresh() != 10 {
		t.Errorf("expected ssthresh = max(cwnd/2, 2) = 10, got %v", c.Ssthresh())
	}
	if c.Cwnd() != 13 {
		t.Errorf("expected cwnd = ssthresh + 3 = 13, got %v", c.Cwnd())
	}
}

func TestSsthreshFloorIsTwoSegments(t *testing.T) {
	c := New()
	c.cwnd = 1
	c.lastAck = 5

	c.OnAckReceived(5)
	c.OnAckReceived(5)
	c.OnAckReceived(5)

	if c.Ssthresh() != 2 {
		t.Errorf("expected ssthresh floor of 2, got %v", c.Ssthresh())
	}
}

func TestFastRecoveryInflatesCwndOnFurtherDuplicates(t *testing.T) {
	c := New()
	c.cwnd = 20
	c.lastAck = 5

	c.OnAckReceived(5)
	c.OnAckReceived(5)
	c.OnAckReceived(5) // enters fast recovery, cwnd = 13
	before := c.Cwnd()

	c.OnAckReceived(5)
	if c.Cwnd() != before+1 {
		t.Errorf("expected cwnd to inflate by 1 per further duplicate, got %v (was %v)", c.Cwnd(), before)
	}
}

func TestNewAckExitsFastRecovery(t *testing.T) {
	c := New()
	c.cwnd = 20
	c.lastAck = 5

	c.OnAckReceived(5)
	c.OnAckReceived(5)
	c.OnAckReceived(5)
	if !c.InFastRecovery() {
		t.Fatal("expected fast recovery to be entered")
	}

	isNew, dup, _ := c.OnAckReceived(6)
	if !isNew || dup != 0 {
		t.Errorf("expected a new ack to reset duplicate tracking, got isNew=%v dup=%d", isNew, dup)
	}
	if c.InFastRecovery() {
		t.Error("expected fast recovery to end once a new ack arrives")
	}
}

func TestOnTimeoutResetsToSlowStart(t *testing.T) {
	c := New()
	c.cwnd = 40
	c.inFastRecovery = true

	c.OnTimeout()

	if c.Cwnd() != InitialCwnd {
		t.Errorf("expected cwnd reset to %v, got %v", InitialCwnd, c.Cwnd())
	}
	if c.Ssthresh() != 20 {
		t.Errorf("expected ssthresh = max(40/2, 2) = 20, got %v", c.Ssthresh())
	}
	if c.InFastRecovery() {
		t.Error("expected fast recovery cleared after timeout")
	}
	if c.DuplicateAcks() != 0 {
		t.Error("expected duplicate ack counter cleared after timeout")
	}
}

func TestEffectiveWindowCapsAtAdvertisedAndMax(t *testing.T) {
	c := New()
	c.cwnd = 200
	if w := c.EffectiveWindow(50); w != 50 {
		t.Errorf("expected advertised window to cap effective window, got %d", w)
	}
	if w := c.EffectiveWindow(1000); w != MaxWindowSegments {
		t.Errorf("expected MaxWindowSegments cap, got %d", w)
	}
}
