package timectrl

import (
	"testing"
	"time"
)

func TestManualClockSetAndAdvance(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clk := NewManualClock(start)

	clk.Advance(42 * time.Second)
	if got, want := clk.Now(), start.Add(42*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}

	later := start.Add(time.Hour)
	clk.Set(later)
	if got := clk.Now(); !got.Equal(later) {
		t.Fatalf("Now() after Set = %v, want %v", got, later)
	}
}

func TestManualClockTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clk := NewManualClock(start)
	tk := clk.NewTicker(10 * time.Second)
	defer tk.Stop()

	clk.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatalf("ticker fired before its period elapsed")
	default:
	}

	clk.Advance(5 * time.Second)
	select {
	case got := <-tk.C():
		if want := start.Add(10 * time.Second); !got.Equal(want) {
			t.Fatalf("tick time = %v, want %v", got, want)
		}
	default:
		t.Fatalf("ticker did not fire after one period")
	}
}

func TestManualClockDropsTicksForSlowReceiver(t *testing.T) {
	clk := NewManualClock(time.Unix(0, 0))
	tk := clk.NewTicker(time.Second)

	clk.Advance(time.Second)
	clk.Advance(time.Second)
	clk.Advance(time.Second)

	<-tk.C()
	select {
	case <-tk.C():
		t.Fatalf("expected buffered ticks to be dropped")
	default:
	}
}

func TestManualClockStoppedTickerIsForgotten(t *testing.T) {
	clk := NewManualClock(time.Unix(0, 0))
	a := clk.NewTicker(time.Second)
	_ = clk.NewTicker(time.Second)
	if n := clk.ActiveTickers(); n != 2 {
		t.Fatalf("ActiveTickers = %d, want 2", n)
	}
	a.Stop()
	clk.Advance(time.Second)
	if n := clk.ActiveTickers(); n != 1 {
		t.Fatalf("ActiveTickers after Stop = %d, want 1", n)
	}
	select {
	case <-a.C():
		t.Fatalf("stopped ticker fired")
	default:
	}
}
