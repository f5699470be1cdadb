package codec_test

import (
	"errors"
	"testing"

	"retrocam.app/recorder/codec"
	"retrocam.app/recorder/codec/fake"
)

func TestVideoOptionsNormalizeFillsDefaults(t *testing.T) {
	opts := codec.VideoOptions{}.Normalize()
	if opts.GOPFrames != 10 || opts.CRF != 23 || opts.Preset != "ultrafast" || opts.FPS != 30 {
		t.Fatalf("Normalize() = %+v, want GOP=10 CRF=23 Preset=ultrafast FPS=30", opts)
	}
}

func TestVideoOptionsNormalizePreservesExplicitValues(t *testing.T) {
	opts := codec.VideoOptions{GOPFrames: 60, CRF: 18, Preset: "veryfast", FPS: 60}.Normalize()
	if opts.GOPFrames != 60 || opts.CRF != 18 || opts.Preset != "veryfast" || opts.FPS != 60 {
		t.Fatalf("Normalize() overwrote explicit values: %+v", opts)
	}
}

func TestAudioOptionsNormalizeFillsDefaults(t *testing.T) {
	opts := codec.AudioOptions{}.Normalize()
	if opts.SampleRate != 48000 || opts.Channels != 2 || opts.BitrateKbps != 128 {
		t.Fatalf("Normalize() = %+v, want 48000/2/128", opts)
	}
}

func TestFakeEncoderTagsKeyframesOnInterval(t *testing.T) {
	enc := fake.NewEncoder()
	enc.KeyframeInterval = 3
	if err := enc.OpenVideo(codec.VideoOptions{}); err != nil {
		t.Fatalf("OpenVideo() error: %v", err)
	}

	want := []bool{true, false, false, true, false, false}
	for i, wantKey := range want {
		pkts, err := enc.EncodeVideo([]byte{byte(i)}, int64(i))
		if err != nil {
			t.Fatalf("EncodeVideo(%d) error: %v", i, err)
		}
		if len(pkts) != 1 {
			t.Fatalf("EncodeVideo(%d) returned %d packets, want 1", i, len(pkts))
		}
		if pkts[0].KeyFrame != wantKey {
			t.Errorf("frame %d: KeyFrame = %v, want %v", i, pkts[0].KeyFrame, wantKey)
		}
	}
}

func TestFakeEncoderEncodeVideoBeforeOpenFails(t *testing.T) {
	enc := fake.NewEncoder()
	if _, err := enc.EncodeVideo([]byte{1}, 0); !errors.Is(err, codec.ErrNotOpen) {
		t.Fatalf("EncodeVideo() before OpenVideo() error = %v, want ErrNotOpen", err)
	}
}

func TestFakeEncoderBackpressureAfterThreshold(t *testing.T) {
	enc := fake.NewEncoder()
	enc.FailAfterVideoFrames = 2
	if err := enc.OpenVideo(codec.VideoOptions{}); err != nil {
		t.Fatalf("OpenVideo() error: %v", err)
	}

	if _, err := enc.EncodeVideo([]byte{1}, 0); err != nil {
		t.Fatalf("first EncodeVideo() error: %v", err)
	}
	if _, err := enc.EncodeVideo([]byte{2}, 1); err != nil {
		t.Fatalf("second EncodeVideo() error: %v", err)
	}
	if _, err := enc.EncodeVideo([]byte{3}, 2); !errors.Is(err, codec.ErrBackpressure) {
		t.Fatalf("third EncodeVideo() error = %v, want ErrBackpressure", err)
	}
}

func TestFakeMuxerEnforcesOrdering(t *testing.T) {
	m := fake.NewMuxer()

	if err := m.WriteHeader(); !errors.Is(err, codec.ErrMisuse) {
		t.Fatalf("WriteHeader() before Open() error = %v, want ErrMisuse", err)
	}

	if err := m.Open("out.mp4"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := m.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader() error: %v", err)
	}

	if err := m.WritePacket(codec.Packet{StreamIndex: codec.StreamVideo, PTS: 1}); err != nil {
		t.Fatalf("WritePacket() error: %v", err)
	}
	if err := m.WriteTrailer(); err != nil {
		t.Fatalf("WriteTrailer() error: %v", err)
	}

	if err := m.WritePacket(codec.Packet{StreamIndex: codec.StreamVideo, PTS: 2}); !errors.Is(err, codec.ErrMisuse) {
		t.Fatalf("WritePacket() after WriteTrailer() error = %v, want ErrMisuse", err)
	}
}

func TestFakeMuxerSeparatesStreamsByIndex(t *testing.T) {
	m := fake.NewMuxer()
	m.Open("out.mp4")
	m.WriteHeader()
	m.WritePacket(codec.Packet{StreamIndex: codec.StreamVideo, PTS: 1})
	m.WritePacket(codec.Packet{StreamIndex: codec.StreamAudio, PTS: 1})
	m.WritePacket(codec.Packet{StreamIndex: codec.StreamVideo, PTS: 2})

	if got := len(m.VideoPackets()); got != 2 {
		t.Errorf("VideoPackets() = %d, want 2", got)
	}
	if got := len(m.AudioPackets()); got != 1 {
		t.Errorf("AudioPackets() = %d, want 1", got)
	}
}

func TestFakeMuxerFailWritePacketAfterThreshold(t *testing.T) {
	m := fake.NewMuxer()
	m.FailWritePacketAfter = 1
	m.Open("out.mp4")
	m.WriteHeader()

	if err := m.WritePacket(codec.Packet{StreamIndex: codec.StreamVideo}); err != nil {
		t.Fatalf("first WritePacket() error: %v", err)
	}
	if err := m.WritePacket(codec.Packet{StreamIndex: codec.StreamVideo}); !errors.Is(err, codec.ErrMuxerIO) {
		t.Fatalf("second WritePacket() error = %v, want ErrMuxerIO", err)
	}
}
