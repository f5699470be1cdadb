package engine_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"retrocam.app/recorder/annotation"
	"retrocam.app/recorder/codec"
	"retrocam.app/recorder/codec/fake"
	"retrocam.app/recorder/engine"
	"retrocam.app/recorder/frame"
	"retrocam.app/recorder/videosource"
)

// fakeVideoSource is a synchronous, test-controlled stand-in for
// videosource.Source: TryAcquire pops a queued frame or returns Timeout
// immediately, so tests never wait out the production 200ms poll interval.
type fakeVideoSource struct {
	mu       sync.Mutex
	frames   []*frame.Video
	fatalErr error
	w, h     int
	released int
}

func (f *fakeVideoSource) Push(fr *frame.Video) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
}

func (f *fakeVideoSource) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fatalErr = err
}

func (f *fakeVideoSource) TryAcquire(time.Duration) (videosource.Outcome, *frame.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fatalErr != nil {
		return videosource.Fatal, nil, f.fatalErr
	}
	if len(f.frames) == 0 {
		time.Sleep(time.Millisecond)
		return videosource.Timeout, nil, nil
	}
	fr := f.frames[0]
	f.frames = f.frames[1:]
	return videosource.Acquired, fr, nil
}

func (f *fakeVideoSource) Release(*frame.Video) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

func (f *fakeVideoSource) ScreenSize() (int, int) { return f.w, f.h }

// Pending reports how many queued frames tick() has not yet consumed, so
// tests can wait for ingestion to finish before asserting on its effects
// instead of racing the background Run() goroutine.
func (f *fakeVideoSource) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeAudioSource struct {
	format frame.Format
}

func (a *fakeAudioSource) Format() frame.Format { return a.format }
func (a *fakeAudioSource) Drain() [][]byte      { return nil }

func newHarness(t *testing.T, ringCapacity int) (*engine.Engine, *fakeVideoSource, *fake.Encoder, *fake.Muxer) {
	t.Helper()
	video := &fakeVideoSource{w: 4, h: 4}
	audio := &fakeAudioSource{format: frame.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}}

	enc := fake.NewEncoder()
	mux := fake.NewMuxer()

	eng := engine.New(engine.Config{
		FPS:                30,
		PrerollSeconds:     3,
		RingBufferCapacity: ringCapacity,
		OutputDir:          t.TempDir(),
	}, video, audio, func() (codec.Encoder, codec.Muxer) { return enc, mux })

	go eng.Run()
	t.Cleanup(eng.Close)

	return eng, video, enc, mux
}

func videoFrameAt(capturedAt time.Time) *frame.Video {
	return &frame.Video{Width: 4, Height: 4, Stride: 16, Pixels: []byte{1, 2, 3, 4}, CapturedAt: capturedAt}
}

func waitForPending(t *testing.T, video *fakeVideoSource) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if video.Pending() == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for the engine to consume queued frames")
}

func asEngineError(t *testing.T, err error) *engine.Error {
	t.Helper()
	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		t.Fatalf("error %v is not *engine.Error", err)
	}
	return engErr
}

func TestStartWhileNotIdleReturnsMisuse(t *testing.T) {
	eng, _, _, _ := newHarness(t, 4)

	if err := eng.Start(); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	err := eng.Start()
	if err == nil {
		t.Fatal("second Start() succeeded, want Misuse error")
	}
	if got := asEngineError(t, err).Kind; got != engine.KindMisuse {
		t.Fatalf("Kind = %v, want KindMisuse", got)
	}
}

func TestEffectsAreRejectedBeforeFirstSession(t *testing.T) {
	eng, _, _, _ := newHarness(t, 4)

	err := eng.AddStroke(1, 1)
	if err == nil {
		t.Fatal("AddStroke() before first session succeeded, want Misuse error")
	}
	if got := asEngineError(t, err).Kind; got != engine.KindMisuse {
		t.Fatalf("Kind = %v, want KindMisuse", got)
	}

	if err := eng.AddMosaicZone(0, 0, 5, 5); err == nil {
		t.Fatal("AddMosaicZone() before first session succeeded, want an error")
	}
	if err := eng.ApplyRetroactiveMosaic(); err == nil {
		t.Fatal("ApplyRetroactiveMosaic() before first session succeeded, want an error")
	}
}

func TestEffectsSucceedAfterFirstSessionEvenOnceStopped(t *testing.T) {
	eng, _, _, _ := newHarness(t, 4)

	if err := eng.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	// everStarted is sticky: effects remain legal after the session ends.
	if err := eng.AddStroke(1, 1); err != nil {
		t.Errorf("AddStroke() after Stop() error: %v", err)
	}
	if err := eng.AddMosaicZone(0, 0, 5, 5); err != nil {
		t.Errorf("AddMosaicZone() after Stop() error: %v", err)
	}
	if err := eng.ApplyRetroactiveMosaic(); err != nil {
		t.Errorf("ApplyRetroactiveMosaic() after Stop() error: %v", err)
	}
}

func TestStartWritesHeaderAndProducesRecFilename(t *testing.T) {
	eng, _, _, mux := newHarness(t, 4)

	if err := eng.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !mux.HeaderWritten {
		t.Error("WriteHeader() was not called")
	}
	name := eng.Filename()
	if !strings.Contains(name, "Rec_") || !strings.Contains(name, ".mp4") {
		t.Errorf("Filename() = %q, want it to contain Rec_ and .mp4", name)
	}
	if eng.State() != engine.Recording {
		t.Errorf("State() = %v, want Recording", eng.State())
	}
}

func TestStopFlushesAndWritesTrailer(t *testing.T) {
	eng, video, _, mux := newHarness(t, 8)

	if err := eng.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	base := time.Now()
	for i := 0; i < 3; i++ {
		video.Push(videoFrameAt(base.Add(time.Duration(i) * 33 * time.Millisecond)))
	}
	waitForPending(t, video)

	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	if !mux.TrailerWritten {
		t.Error("WriteTrailer() was not called")
	}
	if !mux.Closed {
		t.Error("Close() was not called")
	}
	if eng.State() != engine.Idle {
		t.Errorf("State() after Stop() = %v, want Idle", eng.State())
	}
	if got := len(mux.VideoPackets()); got != 3 {
		t.Errorf("VideoPackets() = %d, want 3 (every admitted frame drained)", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	eng, _, _, mux := newHarness(t, 4)

	if err := eng.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := eng.Stop(); err != nil {
		t.Fatalf("first Stop() error: %v", err)
	}
	if err := eng.Stop(); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
	if !mux.Closed {
		t.Error("Close() was not called")
	}
}

func TestVideoPTSIsMonotonicAcrossPrerollAndRecording(t *testing.T) {
	eng, video, _, mux := newHarness(t, 2)

	base := time.Now()
	// Pre-roll frame, admitted while Idle: gets the sentinel until Start
	// anchors the clock and recomputes it from CapturedAt.
	video.Push(videoFrameAt(base))
	waitForPending(t, video)

	if err := eng.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	for i := 1; i <= 3; i++ {
		video.Push(videoFrameAt(base.Add(time.Duration(i) * 33 * time.Millisecond)))
	}
	waitForPending(t, video)

	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	pkts := mux.VideoPackets()
	if len(pkts) != 4 {
		t.Fatalf("VideoPackets() = %d, want 4", len(pkts))
	}
	for i := 1; i < len(pkts); i++ {
		if pkts[i].PTS <= pkts[i-1].PTS {
			t.Errorf("PTS not strictly increasing at index %d: %d <= %d", i, pkts[i].PTS, pkts[i-1].PTS)
		}
	}
	// The pre-roll frame anchors PTS 0, not a stale sentinel value.
	if pkts[0].PTS != 0 {
		t.Errorf("first packet PTS = %d, want 0", pkts[0].PTS)
	}
}

func TestEncoderBackpressureDoesNotTerminateSession(t *testing.T) {
	eng, video, enc, mux := newHarness(t, 2)
	enc.FailAfterVideoFrames = 1

	if err := eng.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	base := time.Now()
	for i := 0; i < 4; i++ {
		video.Push(videoFrameAt(base.Add(time.Duration(i) * 33 * time.Millisecond)))
	}

	deadline := time.Now().Add(time.Second)
	for eng.LastError() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	waitForPending(t, video)

	lastErr := eng.LastError()
	if lastErr == nil {
		t.Fatal("LastError() = nil, want a recorded EncoderBackpressure error")
	}
	if lastErr.Kind != engine.KindEncoderBackpressure {
		t.Fatalf("LastError().Kind = %v, want KindEncoderBackpressure", lastErr.Kind)
	}
	if eng.State() != engine.Recording {
		t.Fatalf("State() = %v, want Recording (backpressure must not tear down the session)", eng.State())
	}

	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if !mux.Closed {
		t.Error("Close() was not called")
	}
	if got := len(mux.VideoPackets()); got != 4 {
		t.Errorf("VideoPackets() = %d, want 4 (every pushed frame must eventually be encoded, not dropped on backpressure)", got)
	}
}

func TestFatalSourceErrorEndsSessionAndClosesMuxer(t *testing.T) {
	eng, video, _, mux := newHarness(t, 4)

	if err := eng.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	video.Push(videoFrameAt(time.Now()))
	video.Fail(errors.New("device disconnected"))

	deadline := time.Now().Add(time.Second)
	for eng.State() != engine.Idle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if eng.State() != engine.Idle {
		t.Fatalf("State() = %v, want Idle after a fatal source error", eng.State())
	}
	if !mux.TrailerWritten {
		t.Error("WriteTrailer() was not called")
	}
	if !mux.Closed {
		t.Error("Close() was not called")
	}
	lastErr := eng.LastError()
	if lastErr == nil || lastErr.Kind != engine.KindSourceFatal {
		t.Fatalf("LastError() = %v, want KindSourceFatal", lastErr)
	}
}

func TestPauseAndResumeAreNoOpsOutsideValidStates(t *testing.T) {
	eng, _, _, _ := newHarness(t, 4)

	if err := eng.Pause(); err != nil {
		t.Fatalf("Pause() while Idle error: %v", err)
	}
	if eng.State() != engine.Idle {
		t.Errorf("State() = %v, want Idle", eng.State())
	}

	if err := eng.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := eng.Resume(); err != nil {
		t.Fatalf("Resume() while Recording error: %v", err)
	}
	if eng.State() != engine.Recording {
		t.Errorf("State() = %v, want Recording", eng.State())
	}

	if err := eng.Pause(); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if eng.State() != engine.Paused {
		t.Errorf("State() = %v, want Paused", eng.State())
	}

	if err := eng.Pause(); err != nil {
		t.Fatalf("second Pause() error: %v", err)
	}
	if eng.State() != engine.Paused {
		t.Errorf("State() after redundant Pause() = %v, want Paused", eng.State())
	}
}

// TestPausedIntervalFramesNeverReachOutputAcrossEviction reproduces the
// case where eviction happens while paused (discarding a Recording-era
// frame under the old state-gated logic) and again after Resume (encoding
// a Paused-era frame under the old logic). With a ring capacity smaller
// than either phase's frame count, both mistakes would show up as a wrong
// VideoPackets count; gating on the evicted frame's own PTSMillis instead
// of the tick's current state keeps the count exact.
func TestPausedIntervalFramesNeverReachOutputAcrossEviction(t *testing.T) {
	eng, video, _, mux := newHarness(t, 3)

	if err := eng.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	base := time.Now()
	step := time.Millisecond
	next := 0
	pushN := func(n int) {
		for i := 0; i < n; i++ {
			video.Push(videoFrameAt(base.Add(time.Duration(next) * step)))
			next++
		}
		waitForPending(t, video)
	}

	// Recording: 6 frames pushed into a 3-frame ring, oldest 3 evicted here
	// while state is Recording.
	pushN(6)

	if err := eng.Pause(); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	// Paused: 6 more frames, evicting the last 3 Recording-era resident
	// frames (under the old bug: discarded because state==Paused at
	// eviction) plus resident Paused-era frames.
	pushN(6)

	if err := eng.Resume(); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	// Recording again: 6 more frames, evicting the remaining Paused-era
	// resident frames (under the old bug: encoded because state==Recording
	// at eviction, recomputing a bogus PTS from CapturedAt).
	pushN(6)

	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	// 6 Recording frames pushed before Pause plus 6 more pushed after
	// Resume: every one of these 12 must reach the output exactly once.
	// None of the 6 Paused-era frames may appear.
	if got, want := len(mux.VideoPackets()), 12; got != want {
		t.Fatalf("VideoPackets() = %d, want %d (paused-interval frames must never be encoded, and no recording-era frame may be silently dropped)", got, want)
	}
}

func TestSetModeIsForwardedToAnnotationStore(t *testing.T) {
	eng, _, _, _ := newHarness(t, 4)
	if err := eng.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	eng.SetMode(annotation.ModeMosaic)
	if err := eng.AddMosaicZone(0, 0, 10, 10); err != nil {
		t.Fatalf("AddMosaicZone() error: %v", err)
	}
	eng.ClearEffects()

	if eng.State() != engine.Recording {
		t.Errorf("State() = %v, want Recording", eng.State())
	}
}
