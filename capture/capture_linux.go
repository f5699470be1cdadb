//go:build linux

package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall"

	"retrocam.app/recorder/internal/pipewire"
	"retrocam.app/recorder/internal/xdgportal"
)

const defaultLinuxFrameRate = 60

type linuxReadCloser struct {
	stream      *pipewire.Stream
	audioStream *pipewire.Stream
	sess        *xdgportal.Session

	once sync.Once
	err  error
}

func (r *linuxReadCloser) Read(p []byte) (int, error) {
	return r.stream.Read(p)
}

func (r *linuxReadCloser) Close() error {
	r.once.Do(func() {
		streamErr := r.stream.Close()
		var audioErr error
		if r.audioStream != nil {
			audioErr = r.audioStream.Close()
		}
		sessErr := r.sess.Close()
		r.err = errors.Join(streamErr, audioErr, sessErr)
	})

	return r.err
}

func open(options *Options) (*Stream, error) {
	options, err := validateOpenOptions(options)
	if err != nil {
		return nil, err
	}

	if !pipewire.IsAvailable() {
		return nil, pipewire.ErrLibraryNotLoaded
	}

	sess, err := xdgportal.CreateSession(nil)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrCancelled
	}

	// Close session on setup failure.
	cleanupSession := true
	defer func() {
		if cleanupSession {
			_ = sess.Close()
		}
	}()

	err = sess.SelectSources(&xdgportal.SelectSourcesOptions{
		Types:        xdgportal.SourceTypeMonitor | xdgportal.SourceTypeWindow,
		CursorMode:   xdgportal.CursorModeEmbedded,
		Multiple:     true,
		RestoreToken: options.RestoreToken,
		PersistMode:  xdgportal.PersistModePersistent,
	})
	if err != nil {
		return nil, err
	}

	streams, err := sess.Start("", nil)
	if err != nil {
		return nil, err
	}
	if streams == nil {
		return nil, ErrCancelled
	}
	if len(streams) == 0 {
		return nil, ErrNoStreams
	}
	if options.StreamIndex >= len(streams) {
		return nil, fmt.Errorf("%w: StreamIndex %d out of range (streams=%d)", ErrInvalidOptions, options.StreamIndex, len(streams))
	}

	selected := streams[options.StreamIndex]
	if selected.Size[0] <= 0 || selected.Size[1] <= 0 {
		return nil, fmt.Errorf("invalid stream size %dx%d", selected.Size[0], selected.Size[1])
	}

	fd, err := sess.OpenPipeWireRemote(nil)
	if err != nil {
		return nil, err
	}
	defer syscall.Close(fd)

	pwStream, err := pipewire.NewStream(fd, selected.NodeID, uint32(selected.Size[0]), uint32(selected.Size[1]))
	if err != nil {
		return nil, err
	}
	pwStream.Start()

	var audioStream *pipewire.Stream
	if options.IncludeAudio {
		// PipeWire loopback capture runs against the default sink monitor,
		// independent of the ScreenCast portal session — it only needs a
		// live PipeWire daemon connection, not the portal's fd.
		audioStream, err = pipewire.NewAudioStream()
		if err != nil {
			captureDebugf("platform=linux stream=%d audio_unavailable err=%v", selected.NodeID, err)
			audioStream = nil
		} else {
			audioStream.Start()
		}
	}

	reader := &linuxReadCloser{
		stream:      pwStream,
		audioStream: audioStream,
		sess:        sess,
	}

	cleanupSession = false
	return &Stream{
		ReadCloser:  reader,
		Audio:       audioReadCloser(audioStream),
		Width:       uint32(selected.Size[0]),
		Height:      uint32(selected.Size[1]),
		FrameRate:   defaultLinuxFrameRate,
		PixelFormat: PixelFormatBGRA,
	}, nil
}

// audioStreamCloser adapts a *pipewire.Stream to io.ReadCloser.
type audioStreamCloser struct {
	stream *pipewire.Stream
}

func (a *audioStreamCloser) Read(p []byte) (int, error) {
	return a.stream.Read(p)
}

func (a *audioStreamCloser) Close() error {
	return a.stream.Close()
}

// audioReadCloser returns nil (an untyped, genuinely nil interface value)
// when s is nil, avoiding the typed-nil-in-interface trap.
func audioReadCloser(s *pipewire.Stream) io.ReadCloser {
	if s == nil {
		return nil
	}
	return &audioStreamCloser{stream: s}
}
