package clock

import (
	"testing"
	"time"
)

func TestNewAnchorsBeforeNowByPrerollSeconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(now, 2.0)

	if got, want := c.SessionStart(), now.Add(-2*time.Second); !got.Equal(want) {
		t.Fatalf("SessionStart() = %v, want %v", got, want)
	}
	if got := c.Now(now); got != 2000 {
		t.Fatalf("Now(now) = %d, want 2000", got)
	}
}

func TestNowIsMonotonicAcrossPause(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(start, 0)

	before := c.Now(start.Add(1 * time.Second))

	c.Pause(start.Add(1 * time.Second))
	// Now() while paused freezes at the pause instant regardless of "at".
	frozen := c.Now(start.Add(5 * time.Second))
	if frozen != before {
		t.Fatalf("Now() while paused = %d, want frozen at %d", frozen, before)
	}

	c.Resume(start.Add(3 * time.Second))
	after := c.Now(start.Add(4 * time.Second))

	// 2s of pause (1s->3s) must not count toward elapsed time.
	if after != 2000 {
		t.Fatalf("Now() after resume = %d, want 2000", after)
	}
	if after < before {
		t.Fatalf("Now() went backwards: before=%d after=%d", before, after)
	}
}

func TestPauseIsIdempotent(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(start, 0)

	c.Pause(start.Add(1 * time.Second))
	c.Pause(start.Add(2 * time.Second)) // second call must be a no-op
	if !c.Paused() {
		t.Fatal("Paused() = false after Pause()")
	}

	c.Resume(start.Add(3 * time.Second))
	// If the second Pause call had reset pauseStart to 2s, cumulativePause
	// would be 1s instead of 2s, and Now() at 3s would read 2000.
	if got := c.Now(start.Add(3 * time.Second)); got != 1000 {
		t.Fatalf("Now() = %d, want 1000", got)
	}
}

func TestResumeWithoutPauseIsNoOp(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(start, 0)

	c.Resume(start.Add(1 * time.Second))
	if c.Paused() {
		t.Fatal("Paused() = true after Resume() with no prior Pause()")
	}
	if got := c.Now(start.Add(1 * time.Second)); got != 1000 {
		t.Fatalf("Now() = %d, want 1000", got)
	}
}

func TestAnchorResetsPauseState(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(start, 0)
	c.Pause(start.Add(1 * time.Second))

	newAnchor := start.Add(10 * time.Second)
	c.Anchor(newAnchor)

	if c.Paused() {
		t.Fatal("Paused() = true after Anchor()")
	}
	if got := c.SessionStart(); !got.Equal(newAnchor) {
		t.Fatalf("SessionStart() = %v, want %v", got, newAnchor)
	}
	if got := c.Now(newAnchor); got != 0 {
		t.Fatalf("Now(newAnchor) = %d, want 0", got)
	}
}

func TestNowNeverGoesNegative(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(start, 5)
	if got := c.Now(start.Add(-time.Hour)); got != 0 {
		t.Fatalf("Now() = %d, want 0", got)
	}
}

func TestPTSConversion(t *testing.T) {
	cases := []struct {
		ms, fps int
		want    int64
	}{
		{1000, 30, 30},
		{0, 30, 0},
		{500, 30, 15},
	}
	for _, c := range cases {
		if got := PTS(int64(c.ms), c.fps); got != c.want {
			t.Errorf("PTS(%d, %d) = %d, want %d", c.ms, c.fps, got, c.want)
		}
	}
}
