// Package fake provides in-memory Encoder and Muxer implementations for
// deterministic tests: no subprocess, no filesystem, real packet payloads
// a test can inspect directly instead of trusting an external ffmpeg
// binary produced the right bytes.
package fake

import (
	"errors"
	"fmt"
	"sync"

	"retrocam.app/recorder/codec"
)

// Encoder "encodes" by tagging each submitted buffer with a stream index
// and PTS and returning it unmodified as a Packet's Data. Every Nth video
// frame (KeyframeInterval) is marked as a keyframe, defaulting to every
// frame if unset.
type Encoder struct {
	mu sync.Mutex

	KeyframeInterval int

	videoOpts codec.VideoOptions
	audioOpts codec.AudioOptions
	videoOpen bool
	audioOpen bool

	videoCount       int
	backpressureHits int

	VideoCalls []VideoCall
	AudioCalls []AudioCall
	Flushed    bool

	// FailAfterVideoFrames, if positive, makes EncodeVideo calls once
	// videoCount reaches this threshold return ErrBackpressure instead of
	// succeeding — a hook for backpressure tests.
	FailAfterVideoFrames int

	// BackpressureLimit caps how many backpressure failures EncodeVideo
	// returns in total once FailAfterVideoFrames is reached; after that many
	// the encoder accepts every call again, modeling a transient queue-full
	// condition rather than a permanent one. Defaults to 1 (a single retry
	// clears it).
	BackpressureLimit int
}

type VideoCall struct {
	Pixels []byte
	PTS    int64
}

type AudioCall struct {
	Samples []byte
	PTS     int64
}

func NewEncoder() *Encoder {
	return &Encoder{KeyframeInterval: 1}
}

func (e *Encoder) OpenVideo(opts codec.VideoOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoOpts = opts.Normalize()
	e.videoOpen = true
	return nil
}

func (e *Encoder) OpenAudio(opts codec.AudioOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioOpts = opts.Normalize()
	e.audioOpen = true
	return nil
}

func (e *Encoder) EncodeVideo(pixels []byte, pts int64) ([]codec.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.videoOpen {
		return nil, codec.ErrNotOpen
	}

	if e.FailAfterVideoFrames > 0 && e.videoCount >= e.FailAfterVideoFrames {
		limit := e.BackpressureLimit
		if limit <= 0 {
			limit = 1
		}
		if e.backpressureHits < limit {
			e.backpressureHits++
			return nil, codec.ErrBackpressure
		}
	}
	e.videoCount++

	cp := append([]byte(nil), pixels...)
	e.VideoCalls = append(e.VideoCalls, VideoCall{Pixels: cp, PTS: pts})

	interval := e.KeyframeInterval
	if interval < 1 {
		interval = 1
	}
	key := (e.videoCount-1)%interval == 0

	return []codec.Packet{{
		StreamIndex: codec.StreamVideo,
		PTS:         pts,
		DTS:         pts,
		Data:        cp,
		KeyFrame:    key,
	}}, nil
}

func (e *Encoder) EncodeAudio(samples []byte, pts int64) ([]codec.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.audioOpen {
		return nil, codec.ErrNotOpen
	}

	cp := append([]byte(nil), samples...)
	e.AudioCalls = append(e.AudioCalls, AudioCall{Samples: cp, PTS: pts})

	return []codec.Packet{{
		StreamIndex: codec.StreamAudio,
		PTS:         pts,
		DTS:         pts,
		Data:        cp,
	}}, nil
}

func (e *Encoder) Flush() ([]codec.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Flushed = true
	return nil, nil
}

// Muxer records every packet written between WriteHeader and WriteTrailer,
// enforcing the same open/header/packet*/trailer/close ordering a real
// container writer would.
type Muxer struct {
	mu sync.Mutex

	Path           string
	HeaderWritten  bool
	TrailerWritten bool
	Closed         bool
	Packets        []codec.Packet

	// FailWritePacketAfter, if positive, makes the (n+1)th WritePacket call
	// return ErrMuxerIO — a hook for muxer-failure tests.
	FailWritePacketAfter int
}

func NewMuxer() *Muxer {
	return &Muxer{}
}

func (m *Muxer) Open(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Path != "" {
		return codec.ErrMisuse
	}
	m.Path = path
	return nil
}

func (m *Muxer) WriteHeader() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Path == "" {
		return fmt.Errorf("%w: WriteHeader before Open", codec.ErrMisuse)
	}
	if m.HeaderWritten {
		return codec.ErrMisuse
	}
	m.HeaderWritten = true
	return nil
}

func (m *Muxer) WritePacket(p codec.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.HeaderWritten || m.TrailerWritten {
		return fmt.Errorf("%w: WritePacket outside header/trailer window", codec.ErrMisuse)
	}
	if m.FailWritePacketAfter > 0 && len(m.Packets)+1 > m.FailWritePacketAfter {
		return codec.ErrMuxerIO
	}
	m.Packets = append(m.Packets, p)
	return nil
}

func (m *Muxer) WriteTrailer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.HeaderWritten {
		return fmt.Errorf("%w: WriteTrailer before WriteHeader", codec.ErrMisuse)
	}
	m.TrailerWritten = true
	return nil
}

func (m *Muxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return errors.New("fake muxer: already closed")
	}
	m.Closed = true
	return nil
}

// VideoPackets returns only the video-stream packets written, in order.
func (m *Muxer) VideoPackets() []codec.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []codec.Packet
	for _, p := range m.Packets {
		if p.StreamIndex == codec.StreamVideo {
			out = append(out, p)
		}
	}
	return out
}

// AudioPackets returns only the audio-stream packets written, in order.
func (m *Muxer) AudioPackets() []codec.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []codec.Packet
	for _, p := range m.Packets {
		if p.StreamIndex == codec.StreamAudio {
			out = append(out, p)
		}
	}
	return out
}
