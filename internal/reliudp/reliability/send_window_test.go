package reliability

import (
	"testing"
	"time"

	"github.com/flowudp/flowudp/internal/reliudp/protocol"
)

func TestAddSegmentArmsTimerOnlyAtBase(t *testing.T) {
	w := NewSendWindow(100)

	_, armFirst := w.AddSegment([]byte("hello"), 0, 10)
	if !armFirst {
		t.Error("first segment lands at base, timer should arm")
	}

	_, armSecond := w.AddSegment([]byte("world"), 0, 10)
	if armSecond {
		t.Error("second segment does not land at base, timer should not rearm")
	}

	if w.NextSeq() != 110 {
		t.Errorf("expected nextSeq 110, got %d", w.NextSeq())
	}
}

func TestAdvanceBaseDropsAcknowledgedSegments(t *testing.T) {
	w := NewSendWindow(0)
	w.AddSegment([]byte("12345"), 0, 10) // seq 0..5
	w.AddSegment([]byte("67890"), 0, 10) // seq 5..10

	_, hasSample, timerArmed := w.AdvanceBase(5, 20)
	if !hasSample {
		t.Error("expected an RTT sample for the base segment")
	}
	if w.Base() != 5 {
		t.Errorf("expected base 5, got %d", w.Base())
	}
	if !timerArmed {
		t.Error("expected timer to remain armed, one segment still outstanding")
	}

	_, _, timerArmed = w.AdvanceBase(10, 20)
	if timerArmed {
		t.Error("expected timer disarmed once base == nextSeq")
	}
	if !w.Empty() {
		t.Error("expected window empty after full ack")
	}
}

func TestAdvanceBaseIgnoresStaleAck(t *testing.T) {
	w := NewSendWindow(0)
	w.AddSegment([]byte("12345"), 0, 10)
	w.AdvanceBase(5, 20)

	_, hasSample, _ := w.AdvanceBase(5, 20)
	if hasSample {
		t.Error("a stale/duplicate ack must not produce a new RTT sample")
	}
	if w.Base() != 5 {
		t.Errorf("base should be unchanged by a stale ack, got %d", w.Base())
	}
}

func TestRetransmitBasePreservesSeqAndPayload(t *testing.T) {
	w := NewSendWindow(0)
	w.AddSegment([]byte("payload"), 0, 10)

	pkt, retries, ok := w.RetransmitBase(99, 10)
	if !ok {
		t.Fatal("expected a segment to retransmit")
	}
	if retries != 1 {
		t.Errorf("expected retry count 1, got %d", retries)
	}
	if pkt.SeqNum != 0 {
		t.Errorf("retransmit must preserve sequence number, got %d", pkt.SeqNum)
	}
	if string(pkt.Payload) != "payload" {
		t.Errorf("retransmit must preserve payload, got %q", pkt.Payload)
	}
	if pkt.Window != 99 {
		t.Errorf("retransmit must carry the freshly supplied window, got %d", pkt.Window)
	}
}

func TestRetransmitClearsSampleEligibility(t *testing.T) {
	w := NewSendWindow(0)
	w.AddSegment([]byte("payload"), 0, 10)
	w.RetransmitBase(10, 10)

	sample, hasSample, _ := w.AdvanceBase(7, 10)
	_ = sample
	if hasSample {
		t.Error("a retransmitted segment must not be sampled per Karn's rule")
	}
}

func TestInFlightSegmentsUsesIntegerDivision(t *testing.T) {
	w := NewSendWindow(0)
	w.AddSegment(make([]byte, protocol.MaxPayloadSize), 0, 10)
	w.AddSegment(make([]byte, 50), 0, 10) // short tail segment

	if got := w.InFlightSegments(); got != 1 {
		t.Errorf("expected integer-division undercount of 1, got %d", got)
	}
}

func TestAddControlSegmentConsumesOneSequenceNumber(t *testing.T) {
	w := NewSendWindow(42)
	pkt := w.AddControlSegment(protocol.Syn, 0, 5)
	if pkt.SeqNum != 42 {
		t.Errorf("expected control segment at isn 42, got %d", pkt.SeqNum)
	}
	if w.NextSeq() != 43 {
		t.Errorf("expected nextSeq to advance by exactly 1, got %d", w.NextSeq())
	}
}

func TestRetransmitBaseOnEmptyWindow(t *testing.T) {
	w := NewSendWindow(0)
	_, _, ok := w.RetransmitBase(10, 10)
	if ok {
		t.Error("expected no segment to retransmit on an empty window")
	}
}

func TestRetransmitBaseRefusesAtMaxRetries(t *testing.T) {
	w := NewSendWindow(0)
	w.AddSegment([]byte("payload"), 0, 10)

	for i := 0; i < 10; i++ {
		_, retries, ok := w.RetransmitBase(10, 10)
		if !ok {
			t.Fatalf("retransmit %d: expected ok, segment should still be retransmittable", i+1)
		}
		if retries != i+1 {
			t.Errorf("retransmit %d: expected retry count %d, got %d", i+1, i+1, retries)
		}
	}

	pkt, retries, ok := w.RetransmitBase(10, 10)
	if ok {
		t.Error("expected the 11th retransmit to be refused once maxRetries is reached")
	}
	if pkt != nil {
		t.Error("a refused retransmit must not build a packet")
	}
	if retries != 10 {
		t.Errorf("expected retries to stay at 10, got %d", retries)
	}
}

func TestAdvanceBaseStampSanity(t *testing.T) {
	w := NewSendWindow(0)
	w.AddSegment([]byte("abc"), 0, 10)
	time.Sleep(time.Millisecond)
	sample, hasSample, _ := w.AdvanceBase(3, 10)
	if !hasSample {
		t.Fatal("expected a sample")
	}
	if sample <= 0 {
		t.Errorf("expected a positive RTT sample, got %v", sample)
	}
}
