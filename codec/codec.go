// Package codec defines the Encoder and Muxer contracts for turning
// composed BGRA frames and PCM audio into a compressed container file,
// plus a production implementation that drives an external ffmpeg process
// to do the actual encoding and muxing.
package codec

import "errors"

// Stream indices: one video stream, one audio stream.
const (
	StreamVideo = 0
	StreamAudio = 1
)

// Packet is a codec output unit: a stream index, PTS/DTS in the encoder's
// own timebase (the caller rescales to the muxer stream's timebase), and —
// for implementations that expose real elementary stream bytes (see
// codec/fake) — the encoded payload.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Data        []byte
	KeyFrame    bool
}

// VideoOptions configures the video encoder. Defaults favor low latency
// over compression ratio: GOP 10, zero B-frames, CRF-based quality ~23, an
// "ultrafast"-equivalent preset — testable knobs, not fixed magic.
type VideoOptions struct {
	Width, Height int
	FPS           int
	GOPFrames     int
	BFrames       int
	CRF           int
	Preset        string
}

// Normalize fills in defaults for zero-valued fields.
func (o VideoOptions) Normalize() VideoOptions {
	if o.GOPFrames <= 0 {
		o.GOPFrames = 10
	}
	if o.CRF <= 0 {
		o.CRF = 23
	}
	if o.Preset == "" {
		o.Preset = "ultrafast"
	}
	if o.FPS <= 0 {
		o.FPS = 30
	}
	return o
}

// AudioOptions configures the audio encoder. Defaults to 48kHz stereo AAC
// at 128kbps.
type AudioOptions struct {
	SampleRate  int
	Channels    int
	BitrateKbps int
}

// Normalize fills in defaults for zero-valued fields.
func (o AudioOptions) Normalize() AudioOptions {
	if o.SampleRate <= 0 {
		o.SampleRate = 48000
	}
	if o.Channels <= 0 {
		o.Channels = 2
	}
	if o.BitrateKbps <= 0 {
		o.BitrateKbps = 128
	}
	return o
}

// Encoder wraps the codec: accepts composed frames and audio, emits
// packets.
type Encoder interface {
	OpenVideo(opts VideoOptions) error
	OpenAudio(opts AudioOptions) error
	EncodeVideo(pixels []byte, pts int64) ([]Packet, error)
	EncodeAudio(samples []byte, pts int64) ([]Packet, error)
	Flush() ([]Packet, error)
}

// Muxer writes packets to the output container with stream-local timebases.
type Muxer interface {
	Open(path string) error
	WriteHeader() error
	WritePacket(p Packet) error
	WriteTrailer() error
	Close() error
}

// Sentinel errors surfaced to callers as distinct error kinds.
var (
	// ErrBackpressure is not a failure: the codec's internal queue signaled
	// "need more input" / "need drain". The caller should stop draining
	// packets for this call and try again on the next iteration.
	ErrBackpressure = errors.New("codec: encoder backpressure")

	// ErrMuxerIO signals a write-packet failure. The engine transitions to
	// Stopping and attempts (but does not guarantee) a trailer write.
	ErrMuxerIO = errors.New("codec: muxer write failed")

	ErrNotOpen  = errors.New("codec: not open")
	ErrMisuse   = errors.New("codec: invalid call sequence")
)
