package harness

import "testing"

func TestZeroRateNeverDrops(t *testing.T) {
	l := NewLossSimulator(0, 1)
	for i := 0; i < 100; i++ {
		if l.ShouldDrop() {
			t.Fatal("rate 0 must never drop")
		}
	}
}

func TestRateOneAlwaysDrops(t *testing.T) {
	l := NewLossSimulator(1, 1)
	for i := 0; i < 100; i++ {
		if !l.ShouldDrop() {
			t.Fatal("rate 1 must always drop")
		}
	}
}

func TestSameSeedIsDeterministic(t *testing.T) {
	a := NewLossSimulator(0.5, 42)
	b := NewLossSimulator(0.5, 42)
	for i := 0; i < 50; i++ {
		if a.ShouldDrop() != b.ShouldDrop() {
			t.Fatal("identical seeds must produce identical drop sequences")
		}
	}
}

func TestPacerDisabledAlwaysAllows(t *testing.T) {
	p := NewPacer(0, 0)
	for i := 0; i < 10; i++ {
		if !p.Allow() {
			t.Fatal("a disabled pacer must always allow")
		}
	}
}
