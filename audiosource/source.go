// Package audiosource adapts the platform capture package's PCM loopback
// stream (or, when unavailable, a synthetic silence generator) into a
// non-blocking Drain contract.
package audiosource

import (
	"io"
	"sync"
	"time"

	"retrocam.app/recorder/frame"
)

// DefaultFormat is the stereo 48kHz PCM16 assumption: the input format the
// encoder's AAC stage expects before its own resampling.
var DefaultFormat = frame.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

const drainChunkBytes = 4096

// Source pulls PCM bytes off a background reader into a list of pending
// chunks; Drain never blocks. If the underlying reader is nil (no platform
// audio available), Drain always returns nil and the engine submits a
// SilenceFrame in its place every iteration, so a real device
// disconnecting mid-session looks the same to the engine as one that was
// never wired.
type Source struct {
	format frame.Format

	mu      sync.Mutex
	pending [][]byte

	reader    io.ReadCloser
	readerErr error

	done      chan struct{}
	closeOnce sync.Once
}

// Open wraps reader (which may be nil) as an audio source with the given
// format, queried once at init.
func Open(reader io.ReadCloser, format frame.Format) *Source {
	if format.SampleRate == 0 {
		format = DefaultFormat
	}
	s := &Source{
		format: format,
		reader: reader,
		done:   make(chan struct{}),
	}
	if reader != nil {
		go s.readLoop()
	}
	return s
}

func (s *Source) readLoop() {
	buf := make([]byte, drainChunkBytes)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := s.reader.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.mu.Lock()
			s.pending = append(s.pending, chunk)
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			s.readerErr = err
			s.mu.Unlock()
			return
		}
	}
}

// Format returns the sample layout queried at init.
func (s *Source) Format() frame.Format {
	return s.format
}

// Drain returns zero or more contiguous PCM byte runs accumulated since the
// last call. Non-blocking; returns empty when no data (or no reader) is
// available — the engine's silence fallback covers the gap.
func (s *Source) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := s.pending
	s.pending = nil
	return out
}

// Close stops the background reader, if any.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.reader != nil {
			err = s.reader.Close()
		}
	})
	return err
}

// SilenceFrame returns a zero-filled codec frame of exactly sampleCount
// interleaved samples, used by the engine's drainAudio when the source
// yields nothing for a codec-frame period.
func SilenceFrame(format frame.Format, sampleCount int) []byte {
	return make([]byte, sampleCount*format.BytesPerSample())
}

// DrainWait blocks briefly for the first chunk, used only by tests that
// want deterministic ordering against a fake reader; production code always
// calls Drain directly from the non-blocking capture loop.
func (s *Source) DrainWait(timeout time.Duration) [][]byte {
	deadline := time.Now().Add(timeout)
	for {
		if out := s.Drain(); out != nil {
			return out
		}
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}
