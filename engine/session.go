package engine

import (
	"sync"

	"retrocam.app/recorder/codec"
)

// State is the recording lifecycle state exposed through the control
// surface.
type State int

const (
	Idle State = iota
	Recording
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	case Paused:
		return "Paused"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// pendingVideoFrame is a frame that was evicted from the ring buffer but not
// yet accepted by the encoder, held for retry on the next drain pass.
type pendingVideoFrame struct {
	pixels []byte
	pts    int64
}

// pendingAudioChunk is an audio chunk that was computed but not yet accepted
// by the encoder, held for retry on the next drain pass.
type pendingAudioChunk struct {
	data []byte
	pts  int64
}

// session holds everything that exists only between start and stop: the
// codec contexts, the audio sample counter, and the bookkeeping needed to
// keep video PTS strictly increasing across eviction order.
type session struct {
	filename string

	encoder codec.Encoder
	muxer   codec.Muxer

	audioFrameSamples int
	audioPending      []byte
	audioSamplesSent  int64

	lastVideoPTS int64
	havePTS      bool

	// pendingVideo/pendingAudio hold frames and chunks that hit
	// codec.ErrBackpressure and are retried, in order, on the next drain
	// pass instead of being dropped.
	pendingVideo []pendingVideoFrame
	pendingAudio []pendingAudioChunk

	stopOnce sync.Once
}
