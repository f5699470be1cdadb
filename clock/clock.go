// Package clock produces the monotonic recording-time stream that every
// captured frame's presentation timestamp is derived from. It accounts for
// paused intervals and the pre-roll offset.
package clock

import (
	"sync"
	"time"
)

// Clock tracks a recording session's time origin and accumulated pause
// duration. Now is monotonic non-decreasing across pause/resume and frozen
// at the instant of pause while paused.
type Clock struct {
	mu sync.Mutex

	sessionStart  time.Time
	paused        bool
	pauseStart    time.Time
	cumulativePause time.Duration
}

// New anchors sessionStart to now minus prerollSeconds, so frames captured
// during the pre-roll window (already resident in the ring buffer at start
// time) map to positive PTS.
func New(now time.Time, prerollSeconds float64) *Clock {
	return &Clock{
		sessionStart: now.Add(-time.Duration(prerollSeconds * float64(time.Second))),
	}
}

// Anchor re-anchors sessionStart to a specific instant, used at
// startRecording to align PTS 0 with the oldest frame resident in the ring
// buffer rather than a fixed preroll offset from "now".
func (c *Clock) Anchor(sessionStart time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionStart = sessionStart
	c.cumulativePause = 0
	c.paused = false
}

// SessionStart returns the anchor instant.
func (c *Clock) SessionStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionStart
}

// Pause freezes Now at the current instant. A second call while already
// paused is a no-op.
func (c *Clock) Pause(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.pauseStart = at
}

// Resume unfreezes the clock, folding the elapsed pause duration into
// cumulativePause so future Now() calls stay monotonic across the gap.
func (c *Clock) Resume(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	c.cumulativePause += at.Sub(c.pauseStart)
}

// Paused reports whether the clock is currently frozen.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Now returns milliseconds since sessionStart, excluding paused intervals.
// While paused it returns the time of pause entry, frozen.
func (c *Clock) Now(at time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ref := at
	if c.paused {
		ref = c.pauseStart
	}
	elapsed := ref.Sub(c.sessionStart) - c.cumulativePause
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed.Milliseconds()
}

// PTS converts a millisecond recording time into a video PTS in the stream's
// timebase: pts = ms * fps / 1000.
func PTS(ms int64, fps int) int64 {
	return ms * int64(fps) / 1000
}
