// Package capture is the platform screen-capture primitive: it yields raw
// BGRA video (and, where available, PCM audio) from the OS's native screen
// recording API. It does not implement pixel acquisition itself so much as
// the contract that videosource.Source and audiosource.Source adapt into
// the pull-based frame/audio interfaces the engine consumes.
package capture

import (
	"errors"
	"io"
)

const (
	// PixelFormatBGRA is the unified output pixel format across all platforms.
	PixelFormatBGRA = "BGRA"
)

var (
	ErrNotImplemented = errors.New("screen capture backend is not implemented on this platform")
	ErrCancelled      = errors.New("screen capture request was cancelled")
	ErrNoStreams      = errors.New("screen capture returned no streams")
	ErrInvalidOptions = errors.New("invalid screen capture options")
)

// Options configures a capture session.
type Options struct {
	// StreamIndex selects the stream from the OS chooser result. Default is 0.
	StreamIndex int

	// IncludeAudio requests a companion PCM loopback stream alongside video.
	// If the platform backend cannot provide audio, Stream.Audio is nil and
	// the caller (audiosource.Source) falls back to silence.
	IncludeAudio bool

	// RestoreToken, when non-empty, asks the platform picker (xdg-desktop-
	// portal on Linux) to reuse a previously granted source selection
	// instead of prompting again.
	RestoreToken string
}

// Stream is a unified raw frame source. Read yields raw BGRA bytes; Audio,
// if non-nil, yields interleaved PCM bytes on a separate channel.
type Stream struct {
	io.ReadCloser
	Audio io.ReadCloser

	Width       uint32
	Height      uint32
	FrameRate   uint32
	PixelFormat string
}

// Open initializes an OS-specific screen capture backend and returns a
// unified BGRA frame reader.
func Open(options *Options) (*Stream, error) {
	return open(options)
}
