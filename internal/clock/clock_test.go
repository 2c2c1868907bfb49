package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := NewManual(base)

	if !clk.Now().Equal(base) {
		t.Errorf("Now() = %v, want %v", clk.Now(), base)
	}

	clk.Advance(90 * time.Second)
	if want := base.Add(90 * time.Second); !clk.Now().Equal(want) {
		t.Errorf("Now() after advance = %v, want %v", clk.Now(), want)
	}
}

func TestManualSet(t *testing.T) {
	clk := NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	target := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	clk.Set(target)
	if !clk.Now().Equal(target) {
		t.Errorf("Now() = %v, want %v", clk.Now(), target)
	}
}

func TestSystemTracksWallClock(t *testing.T) {
	before := time.Now()
	got := System{}.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("System.Now() = %v outside [%v, %v]", got, before, after)
	}
}
