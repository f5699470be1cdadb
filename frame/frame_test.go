package frame

import "testing"

func TestCloneDeepCopiesPixels(t *testing.T) {
	f := &Video{Width: 2, Height: 1, Stride: 8, Pixels: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	cp := f.Clone()

	cp.Pixels[0] = 0xFF
	if f.Pixels[0] != 1 {
		t.Fatalf("mutating the clone changed the original: Pixels[0] = %d, want 1", f.Pixels[0])
	}
	if cp.Width != f.Width {
		t.Errorf("Clone().Width = %d, want %d", cp.Width, f.Width)
	}
}

func TestCloneOfNilReturnsNil(t *testing.T) {
	var f *Video
	if got := f.Clone(); got != nil {
		t.Fatalf("Clone() of nil = %v, want nil", got)
	}
}

func TestFormatBytesPerSample(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
	if got := f.BytesPerSample(); got != 4 {
		t.Fatalf("BytesPerSample() = %d, want 4", got)
	}
}
