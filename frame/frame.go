// Package frame defines the shared video frame tuple that flows through
// capture, the ring buffer, the compositor, and the encoder.
package frame

import "time"

// PrerollSentinel marks a frame captured while the engine was not
// Recording (idle pre-roll or paused), so it carries no real presentation
// timestamp. Idle frames still buffered when a session starts are
// re-stamped then; paused frames keep the sentinel.
const PrerollSentinel int64 = -1

// Video is an immutable capture tuple until it is admitted to the ring
// buffer, at which point its Pixels become mutable memory owned exclusively
// by the buffer slot holding it. Width and Height are always even.
type Video struct {
	Width     int
	Height    int
	Stride    int
	Pixels    []byte
	CapturedAt time.Time

	// PTSMillis is set by the engine when the frame is admitted: either the
	// clock-derived recording timestamp, or PrerollSentinel while Idle or
	// Paused.
	PTSMillis int64
}

// Clone returns a deep copy of the frame's pixel buffer. Used when a caller
// needs to retain frame contents beyond the normal single-owner window
// (capture -> compositor -> ring buffer -> encoder).
func (f *Video) Clone() *Video {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Pixels = make([]byte, len(f.Pixels))
	copy(cp.Pixels, f.Pixels)
	return &cp
}

// Audio is a run of interleaved PCM samples tagged with the wall-clock
// instant they were captured.
type Audio struct {
	Samples    []byte
	CapturedAt time.Time
}

// Format describes the audio stream's sample layout, queried once at init.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerSample returns the frame size of one interleaved sample across all
// channels, in bytes.
func (f Format) BytesPerSample() int {
	return f.Channels * (f.BitDepth / 8)
}
