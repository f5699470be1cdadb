// Package ringbuffer implements the bounded FIFO of captured frames that
// backs the retroactive edit window.
package ringbuffer

import (
	"sync"

	"retrocam.app/recorder/frame"
)

// RingBuffer is a bounded FIFO of frames; buffered frames are reached for
// mutation through ForEachMut, not by index. All operations
// serialize on a single lock; ForEachMut holds it for O(capacity ×
// framePixels), every other operation is O(1).
type RingBuffer struct {
	mu       sync.Mutex
	capacity int
	frames   []*frame.Video
}

// New returns an empty buffer with the given capacity. Capacity below 1 is
// clamped to 1 — a zero-capacity ring buffer cannot hold pre-roll history.
func New(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{capacity: capacity}
}

// Capacity returns the fixed capacity C.
func (r *RingBuffer) Capacity() int {
	return r.capacity
}

// Push appends a frame. If admission grows the buffer past capacity, the
// oldest frame is evicted and returned. Frames must arrive in
// non-decreasing capture-timestamp order — Push does not itself enforce
// this; the engine's single-producer discipline does.
func (r *RingBuffer) Push(f *frame.Video) (evicted *frame.Video) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames = append(r.frames, f)
	if len(r.frames) > r.capacity {
		evicted = r.frames[0]
		r.frames = r.frames[1:]
	}
	return evicted
}

// Len returns the number of frames currently buffered.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Oldest returns the frame at the front of the FIFO without removing it, or
// nil if the buffer is empty.
func (r *RingBuffer) Oldest() *frame.Video {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[0]
}

// ForEachMut invokes fn on every buffered frame's pixel memory under the
// buffer lock, in FIFO order. Used by the retroactive mask operation: no
// frame admitted after the lock is acquired is visible to fn, and no Push
// can proceed until fn returns for every frame.
func (r *RingBuffer) ForEachMut(fn func(f *frame.Video)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		fn(f)
	}
}

// Drain removes and returns all remaining frames in FIFO order, used at
// shutdown to flush buffered history into the encoder.
func (r *RingBuffer) Drain() []*frame.Video {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.frames
	r.frames = nil
	return out
}
