// Package engine implements the PipelineEngine orchestrator: it drives the
// capture-thread main loop, admits frames into the ring buffer, gates
// video/audio encoding on recording state, and owns the lifecycle
// transitions between Idle, Recording, Paused, and Stopping.
package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"retrocam.app/recorder/annotation"
	"retrocam.app/recorder/audiosource"
	"retrocam.app/recorder/clock"
	"retrocam.app/recorder/codec"
	"retrocam.app/recorder/compositor"
	"retrocam.app/recorder/frame"
	"retrocam.app/recorder/ringbuffer"
	"retrocam.app/recorder/videosource"
)

const (
	DefaultFPS               = 30
	DefaultPrerollSeconds    = 3.0
	DefaultAudioFrameSamples = 1024
	acquireTimeout           = 200 * time.Millisecond
)

// VideoSource is the pull-based frame contract the engine drives on its
// capture thread. videosource.Source implements it against a live capture
// backend; tests substitute an in-memory fake.
type VideoSource interface {
	TryAcquire(timeout time.Duration) (videosource.Outcome, *frame.Video, error)
	Release(f *frame.Video)
	ScreenSize() (width, height int)
}

// AudioSource is the non-blocking drain contract for the companion audio
// track. audiosource.Source implements it (falling back to silence when no
// platform loopback stream is available).
type AudioSource interface {
	Format() frame.Format
	Drain() [][]byte
}

// EncoderMuxerFactory builds a fresh Encoder+Muxer pair for one recording
// session. Production wiring returns two views of the same
// *codec.FFmpegPipeline; tests return codec/fake instances.
type EncoderMuxerFactory func() (codec.Encoder, codec.Muxer)

// Config bundles the tunables normalized once at engine construction.
type Config struct {
	FPS                int
	PrerollSeconds     float64
	RingBufferCapacity int
	AudioFrameSamples  int
	OutputDir          string
	VideoOptions       codec.VideoOptions
	AudioOptions       codec.AudioOptions
}

func (c Config) normalize() Config {
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.PrerollSeconds <= 0 {
		c.PrerollSeconds = DefaultPrerollSeconds
	}
	if c.RingBufferCapacity <= 0 {
		c.RingBufferCapacity = int(float64(c.FPS) * c.PrerollSeconds)
	}
	if c.AudioFrameSamples <= 0 {
		c.AudioFrameSamples = DefaultAudioFrameSamples
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	return c
}

// Engine is the PipelineEngine: it exclusively owns the ring buffer,
// clock, and sources, and shares the annotation store with the control
// surface (whose writes are serialized inside the store itself).
type Engine struct {
	cfg Config

	video    VideoSource
	audio    AudioSource
	newCodec EncoderMuxerFactory

	annotations *annotation.Store
	ring        *ringbuffer.RingBuffer
	clk         *clock.Clock

	mu          sync.Mutex
	state       State
	sess        *session
	lastErr     *Error
	everStarted bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	stopReqCh chan chan struct{}
}

// New builds an engine wired to the given sources and codec factory.
// ScreenSize is queried once, up front, to fix VideoOptions.Width/Height.
func New(cfg Config, video VideoSource, audio AudioSource, newCodec EncoderMuxerFactory) *Engine {
	cfg = cfg.normalize()

	w, h := video.ScreenSize()
	cfg.VideoOptions.Width = w
	cfg.VideoOptions.Height = h
	cfg.VideoOptions.FPS = cfg.FPS
	cfg.VideoOptions = cfg.VideoOptions.Normalize()
	cfg.AudioOptions = cfg.AudioOptions.Normalize()

	return &Engine{
		cfg:         cfg,
		video:       video,
		audio:       audio,
		newCodec:    newCodec,
		annotations: annotation.New(),
		ring:        ringbuffer.New(cfg.RingBufferCapacity),
		clk:         clock.New(time.Now(), cfg.PrerollSeconds),
		stopReqCh:   make(chan chan struct{}),
	}
}

// Run executes the capture-thread main loop until Close is called or a
// fatal source error occurs. Intended to run on its own goroutine.
func (e *Engine) Run() {
	e.mu.Lock()
	if e.stopCh != nil {
		e.mu.Unlock()
		return
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stopCh := e.stopCh
	doneCh := e.doneCh
	e.mu.Unlock()

	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case done := <-e.stopReqCh:
			e.finishOrIdle()
			close(done)
		default:
		}
		if e.tick() {
			return
		}
	}
}

// Close stops the main loop after its current iteration and, if a session
// is still active, drains it into a well-formed file before returning.
func (e *Engine) Close() {
	e.mu.Lock()
	stopCh := e.stopCh
	doneCh := e.doneCh
	e.mu.Unlock()

	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
		if doneCh != nil {
			<-doneCh
		}
	}
	_ = e.Stop()
}

// tick runs one capture-thread iteration. It returns true when the loop
// must exit because of a fatal source error.
func (e *Engine) tick() (fatal bool) {
	outcome, f, err := e.video.TryAcquire(acquireTimeout)
	switch outcome {
	case videosource.Timeout:
		return false
	case videosource.Fatal:
		e.setLastError(&Error{Kind: KindSourceFatal, Err: errOrDefault(err)})
		e.finishOrIdle()
		return true
	}
	defer e.video.Release(f)

	snap := e.annotations.Snapshot()
	compositor.Apply(f.Pixels, f.Stride, f.Width, f.Height, snap)

	e.mu.Lock()
	state := e.state
	if state == Recording {
		f.PTSMillis = e.clk.Now(f.CapturedAt)
	} else {
		f.PTSMillis = frame.PrerollSentinel
	}
	evicted := e.ring.Push(f)
	sess := e.sess
	e.mu.Unlock()

	if evicted != nil && sess != nil && evicted.PTSMillis != frame.PrerollSentinel {
		e.encodeEvictedFrame(sess, evicted, false)
	}
	if state == Recording && sess != nil {
		e.drainAudio(sess, false)
	}
	return false
}

// finishOrIdle runs the drain-flush-close sequence if a session is active,
// or moves straight to Idle if not. Used wherever the capture thread itself
// decides the loop is ending: a fatal source error, or a handed-off Stop
// request serviced from Run's own goroutine.
func (e *Engine) finishOrIdle() {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess != nil {
		e.finishSession(sess)
	} else {
		e.mu.Lock()
		e.state = Idle
		e.mu.Unlock()
	}
}

func errOrDefault(err error) error {
	if err != nil {
		return err
	}
	return errNilSourceFatal
}

// encodeEvictedFrame computes the frame's PTS once, queues it, and drains
// the queue. codec.ErrBackpressure is not a failure: the frame stays queued
// and is retried on the next call instead of being dropped, so every
// admitted frame is encoded exactly once, just possibly late. Callers must
// only pass frames whose PTSMillis carries a clock timestamp (stamped while
// Recording, or re-stamped by Start for buffered pre-roll frames); a frame
// carrying frame.PrerollSentinel was never part of a recorded interval and
// must be discarded by the caller instead of reaching here.
func (e *Engine) encodeEvictedFrame(sess *session, f *frame.Video, duringDrain bool) {
	pts := clock.PTS(f.PTSMillis, e.cfg.FPS)
	if sess.havePTS && pts <= sess.lastVideoPTS {
		pts = sess.lastVideoPTS + 1
	}
	sess.lastVideoPTS = pts
	sess.havePTS = true

	sess.pendingVideo = append(sess.pendingVideo, pendingVideoFrame{pixels: f.Pixels, pts: pts})
	e.drainPendingVideo(sess, duringDrain)
}

// drainPendingVideo submits queued frames to the encoder in admission
// order, stopping at the first one the encoder still won't accept.
func (e *Engine) drainPendingVideo(sess *session, duringDrain bool) {
	for len(sess.pendingVideo) > 0 {
		pv := sess.pendingVideo[0]
		pkts, err := sess.encoder.EncodeVideo(pv.pixels, pv.pts)
		if err != nil {
			if errors.Is(err, codec.ErrBackpressure) {
				e.setLastError(&Error{Kind: KindEncoderBackpressure, Err: err})
				return
			}
			sess.pendingVideo = sess.pendingVideo[1:]
			e.setLastError(&Error{Kind: KindMuxerIOError, Err: err})
			if !duringDrain {
				e.finishSession(sess)
			}
			return
		}
		sess.pendingVideo = sess.pendingVideo[1:]
		for _, p := range pkts {
			if wErr := sess.muxer.WritePacket(p); wErr != nil {
				e.setLastError(&Error{Kind: KindMuxerIOError, Err: wErr})
				if !duringDrain {
					e.finishSession(sess)
				}
				return
			}
		}
	}
}

// drainAudio computes the next fixed-size audio chunk (real or silence),
// queues it, and drains the queue the same way encodeEvictedFrame does for
// video: backpressure retries instead of dropping.
func (e *Engine) drainAudio(sess *session, duringDrain bool) {
	format := e.audio.Format()
	frameBytes := sess.audioFrameSamples * format.BytesPerSample()
	if frameBytes <= 0 {
		return
	}

	for _, chunk := range e.audio.Drain() {
		sess.audioPending = append(sess.audioPending, chunk...)
	}

	var chunk []byte
	if len(sess.audioPending) >= frameBytes {
		chunk = sess.audioPending[:frameBytes]
		sess.audioPending = append([]byte(nil), sess.audioPending[frameBytes:]...)
	} else {
		chunk = audiosource.SilenceFrame(format, sess.audioFrameSamples)
	}

	pts := sess.audioSamplesSent
	sess.audioSamplesSent += int64(sess.audioFrameSamples)

	sess.pendingAudio = append(sess.pendingAudio, pendingAudioChunk{data: chunk, pts: pts})
	e.drainPendingAudio(sess, duringDrain)
}

// drainPendingAudio is drainPendingVideo's counterpart for the audio queue.
func (e *Engine) drainPendingAudio(sess *session, duringDrain bool) {
	for len(sess.pendingAudio) > 0 {
		pa := sess.pendingAudio[0]
		pkts, err := sess.encoder.EncodeAudio(pa.data, pa.pts)
		if err != nil {
			if errors.Is(err, codec.ErrBackpressure) {
				e.setLastError(&Error{Kind: KindEncoderBackpressure, Err: err})
				return
			}
			sess.pendingAudio = sess.pendingAudio[1:]
			e.setLastError(&Error{Kind: KindMuxerIOError, Err: err})
			if !duringDrain {
				e.finishSession(sess)
			}
			return
		}
		sess.pendingAudio = sess.pendingAudio[1:]
		for _, p := range pkts {
			if wErr := sess.muxer.WritePacket(p); wErr != nil {
				e.setLastError(&Error{Kind: KindMuxerIOError, Err: wErr})
				if !duringDrain {
					e.finishSession(sess)
				}
				return
			}
		}
	}
}

// finishSession runs the drain-flush-trailer-close sequence exactly once
// per session, however it was triggered (explicit Stop, a fatal source
// error, or a muxer/encoder failure mid-recording). The drain phase is not
// cancellable: it always runs to completion so the file is well-formed.
func (e *Engine) finishSession(sess *session) {
	sess.stopOnce.Do(func() {
		e.mu.Lock()
		e.state = Stopping
		e.mu.Unlock()

		for _, f := range e.ring.Drain() {
			if f.PTSMillis == frame.PrerollSentinel {
				continue
			}
			e.encodeEvictedFrame(sess, f, true)
		}
		e.drainShutdownBackpressure(sess)

		if pkts, err := sess.encoder.Flush(); err == nil {
			for _, p := range pkts {
				_ = sess.muxer.WritePacket(p)
			}
		}

		trailerErr := sess.muxer.WriteTrailer()
		closeErr := sess.muxer.Close()
		if trailerErr != nil {
			e.setLastError(&Error{Kind: KindMuxerIOError, Err: trailerErr})
		} else if closeErr != nil {
			e.setLastError(&Error{Kind: KindMuxerIOError, Err: closeErr})
		}

		e.mu.Lock()
		e.sess = nil
		e.state = Idle
		e.mu.Unlock()
	})
}

// drainShutdownBackpressure retries whatever is still queued after the ring
// drain. finishSession has no future tick to fall back on, so unlike the
// live path it backs off and retries a bounded number of times instead of
// leaving the retry to the next call before writing the trailer.
func (e *Engine) drainShutdownBackpressure(sess *session) {
	const maxAttempts = 25
	const backoff = 20 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		e.drainPendingVideo(sess, true)
		e.drainPendingAudio(sess, true)
		if len(sess.pendingVideo) == 0 && len(sess.pendingAudio) == 0 {
			return
		}
		time.Sleep(backoff)
	}
}

// Start transitions Idle -> Recording: it opens a fresh codec session,
// anchors the clock, and writes the container header.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state != Idle {
		state := e.state
		e.mu.Unlock()
		return &Error{Kind: KindMisuse, Err: fmt.Errorf("start called in state %s", state)}
	}
	e.mu.Unlock()

	encoder, muxer := e.newCodec()
	if encoder == nil || muxer == nil {
		return &Error{Kind: KindNotInitialized, Err: errors.New("codec factory returned a nil encoder or muxer")}
	}
	if err := encoder.OpenVideo(e.cfg.VideoOptions); err != nil {
		return &Error{Kind: KindNotInitialized, Err: err}
	}
	if err := encoder.OpenAudio(e.cfg.AudioOptions); err != nil {
		return &Error{Kind: KindNotInitialized, Err: err}
	}

	filename := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("Rec_%s.mp4", time.Now().Format("20060102_150405")))
	if err := muxer.Open(filename); err != nil {
		return &Error{Kind: KindNotInitialized, Err: err}
	}
	if err := muxer.WriteHeader(); err != nil {
		return &Error{Kind: KindNotInitialized, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Pre-roll anchor: align PTS 0 with the oldest frame already resident
	// in the buffer, so a full pre-roll window maps to a faithful PTS
	// range instead of an offset that assumes the buffer was already full.
	anchor := time.Now().Add(-time.Duration(e.cfg.PrerollSeconds * float64(time.Second)))
	if oldest := e.ring.Oldest(); oldest != nil {
		anchor = oldest.CapturedAt
	}
	e.clk.Anchor(anchor)
	// Frames already buffered were admitted while Idle and carry the
	// pre-roll sentinel; re-stamp them against the new anchor so they are
	// encoded as the start of the recording instead of discarded.
	e.ring.ForEachMut(func(f *frame.Video) {
		if f.PTSMillis == frame.PrerollSentinel {
			f.PTSMillis = e.clk.Now(f.CapturedAt)
		}
	})

	e.sess = &session{
		filename:          filename,
		encoder:           encoder,
		muxer:             muxer,
		audioFrameSamples: e.cfg.AudioFrameSamples,
	}
	e.state = Recording
	e.everStarted = true
	e.lastErr = nil
	return nil
}

// Stop transitions any active state to Idle, flushing output. A no-op
// (returning nil) when already Idle.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == Idle {
		e.mu.Unlock()
		return nil
	}
	sess := e.sess
	stopCh := e.stopCh
	doneCh := e.doneCh
	e.mu.Unlock()

	if sess == nil {
		e.mu.Lock()
		e.state = Idle
		e.mu.Unlock()
		return nil
	}

	e.stopSession(sess, stopCh, doneCh)

	if lastErr := e.LastError(); lastErr != nil && lastErr.Kind == KindMuxerIOError {
		return lastErr
	}
	return nil
}

// stopSession runs finishSession on the capture thread instead of the
// caller's goroutine: encodeVideo/Flush and the muxer's WritePacket/
// WriteTrailer/Close must only ever run on the goroutine driving tick(), the
// same one that calls encodeEvictedFrame/drainAudio, or the two race on the
// session's unguarded fields. If Run's loop is active, this hands off a
// completion channel via stopReqCh and blocks until the loop services it.
// If the loop was never started, or has already exited, there is no one
// else to run it, so it falls back to running inline; finishSession's
// sync.Once makes that safe even if both paths somehow overlap.
func (e *Engine) stopSession(sess *session, stopCh, doneCh chan struct{}) {
	if stopCh == nil {
		e.finishSession(sess)
		return
	}

	select {
	case <-doneCh:
		e.finishSession(sess)
		return
	default:
	}

	done := make(chan struct{})
	select {
	case e.stopReqCh <- done:
	case <-doneCh:
		e.finishSession(sess)
		return
	}

	select {
	case <-done:
	case <-doneCh:
		e.finishSession(sess)
	}
}

// Pause toggles Recording -> Paused. A no-op outside Recording.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Recording {
		return nil
	}
	e.clk.Pause(time.Now())
	e.state = Paused
	return nil
}

// Resume toggles Paused -> Recording. A no-op outside Paused.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Paused {
		return nil
	}
	e.clk.Resume(time.Now())
	e.state = Recording
	return nil
}

// SetMode changes the active annotation tool.
func (e *Engine) SetMode(m annotation.Mode) {
	e.annotations.SetMode(m)
}

// AddStroke appends a pen stroke at the given point using the default
// color and radius. Rejected before the first session has ever started.
func (e *Engine) AddStroke(x, y int) error {
	if !e.hasEverStarted() {
		return &Error{Kind: KindMisuse, Err: errors.New("addStroke before first session")}
	}
	e.annotations.AddStroke(annotation.Point{X: x, Y: y})
	return nil
}

// AddMosaicZone appends a mosaic rectangle using the default block size.
// Rejected before the first session has ever started.
func (e *Engine) AddMosaicZone(x, y, w, h int) error {
	if !e.hasEverStarted() {
		return &Error{Kind: KindMisuse, Err: errors.New("addMosaicZone before first session")}
	}
	e.annotations.AddMosaic(x, y, w, h)
	return nil
}

// ClearEffects removes every accumulated stroke and mosaic zone.
func (e *Engine) ClearEffects() {
	e.annotations.Clear()
}

// ApplyRetroactiveMosaic applies the currently configured mosaic zones (not
// strokes, which remain forward-only) to every frame resident in the ring
// buffer at the instant the buffer lock is acquired. Frames admitted after
// that instant are unaffected. This is a blocking edit: no capture can
// admit and no drain can advance while it runs.
func (e *Engine) ApplyRetroactiveMosaic() error {
	if !e.hasEverStarted() {
		return &Error{Kind: KindMisuse, Err: errors.New("applyRetroactiveMosaic before first session")}
	}
	snap := e.annotations.Snapshot().MosaicOnly()
	e.ring.ForEachMut(func(f *frame.Video) {
		compositor.Apply(f.Pixels, f.Stride, f.Width, f.Height, snap)
	})
	return nil
}

func (e *Engine) hasEverStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.everStarted
}

// State reports the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Filename returns the active session's output path, or "" outside a
// session.
func (e *Engine) Filename() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return ""
	}
	return e.sess.filename
}

// DurationMs reports elapsed recording time, excluding paused intervals.
// Zero outside an active session.
func (e *Engine) DurationMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return 0
	}
	return e.clk.Now(time.Now())
}

// LastError returns the most recently recorded session-fatal or
// container-level error, or nil.
func (e *Engine) LastError() *Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) setLastError(err *Error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}
