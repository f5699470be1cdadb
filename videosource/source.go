// Package videosource adapts the platform capture package's push-style
// io.ReadCloser video stream into a pull-based frame source:
// TryAcquire(timeout) -> Frame | Timeout | Fatal.
package videosource

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"retrocam.app/recorder/capture"
	"retrocam.app/recorder/frame"
)

// Outcome distinguishes the three TryAcquire results.
type Outcome int

const (
	// Acquired: Frame is populated and must be released after use.
	Acquired Outcome = iota
	// Timeout: no new frame within the deadline; the previous frame is
	// still valid and the caller should skip this iteration.
	Timeout
	// Fatal: unrecoverable acquisition failure.
	Fatal
)

// ErrFatal wraps the underlying read error on a Fatal outcome.
var ErrFatal = errors.New("videosource: fatal capture error")

// Options configures a Source.
type Options struct {
	StreamIndex  int
	IncludeAudio bool
	RestoreToken string
}

// Source pulls fixed-size BGRA frames off a capture.Stream on a background
// goroutine and exposes them via TryAcquire, so the capture thread's main
// loop never blocks past its timeout.
type Source struct {
	stream *capture.Stream

	width, height int
	stride        int
	frameBytes    int

	frames chan *frame.Video
	fatal  chan error
	done   chan struct{}

	closeOnce sync.Once
}

// Open initializes the platform backend and starts the background reader.
// Width and height are validated even, since chroma planes downstream
// assume it.
func Open(opts Options) (*Source, error) {
	stream, err := capture.Open(&capture.Options{
		StreamIndex:  opts.StreamIndex,
		IncludeAudio: opts.IncludeAudio,
		RestoreToken: opts.RestoreToken,
	})
	if err != nil {
		return nil, err
	}

	w, h := int(stream.Width), int(stream.Height)
	if w%2 != 0 || h%2 != 0 {
		_ = stream.Close()
		return nil, fmt.Errorf("videosource: capture size %dx%d must be even", w, h)
	}

	stride := w * 4
	s := &Source{
		stream:     stream,
		width:      w,
		height:     h,
		stride:     stride,
		frameBytes: stride * h,
		frames:     make(chan *frame.Video, 1),
		fatal:      make(chan error, 1),
		done:       make(chan struct{}),
	}

	go s.readLoop()
	return s, nil
}

func (s *Source) readLoop() {
	buf := make([]byte, s.frameBytes)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if _, err := readFull(s.stream, buf); err != nil {
			select {
			case s.fatal <- err:
			default:
			}
			return
		}

		f := &frame.Video{
			Width:      s.width,
			Height:     s.height,
			Stride:     s.stride,
			Pixels:     append([]byte(nil), buf...),
			CapturedAt: time.Now(),
		}

		select {
		case <-s.done:
			return
		case s.frames <- f:
		default:
			// Previous frame not yet consumed: drop the oldest to keep the
			// reader from blocking on a slow consumer, mirroring
			// capture.asyncPipeWriter's oldest-drop discipline.
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- f:
			default:
			}
		}
	}
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TryAcquire returns the next available frame, Timeout if none arrives
// within timeout, or Fatal if the underlying stream failed permanently.
func (s *Source) TryAcquire(timeout time.Duration) (Outcome, *frame.Video, error) {
	select {
	case f := <-s.frames:
		return Acquired, f, nil
	case err := <-s.fatal:
		return Fatal, nil, fmt.Errorf("%w: %v", ErrFatal, err)
	default:
	}

	if timeout <= 0 {
		return Timeout, nil, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-s.frames:
		return Acquired, f, nil
	case err := <-s.fatal:
		return Fatal, nil, fmt.Errorf("%w: %v", ErrFatal, err)
	case <-timer.C:
		return Timeout, nil, nil
	}
}

// Release returns a frame to the source. In this implementation frames are
// heap-allocated copies with no backing pool, so Release is a no-op; it
// exists as a seam for a future pooled implementation.
func (s *Source) Release(f *frame.Video) {
	_ = f
}

// ScreenSize returns the capture dimensions, both guaranteed even.
func (s *Source) ScreenSize() (width, height int) {
	return s.width, s.height
}

// AudioReader returns the companion PCM loopback stream requested via
// Options.IncludeAudio, or nil if the platform backend could not provide
// one. Callers hand this directly to audiosource.Open.
func (s *Source) AudioReader() io.ReadCloser {
	return s.stream.Audio
}

// Close stops the background reader and releases the platform backend.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.stream.Close()
	})
	return err
}
