package compositor

import (
	"bytes"
	"testing"

	"retrocam.app/recorder/annotation"
)

func blankFrame(width, height int) (pixels []byte, stride int) {
	stride = width * bytesPerPixel
	return make([]byte, stride*height), stride
}

func pixelAt(pixels []byte, stride, x, y int) (b, g, r, a byte) {
	off := y*stride + x*bytesPerPixel
	return pixels[off], pixels[off+1], pixels[off+2], pixels[off+3]
}

func TestApplyStrokePaintsFilledSquareAroundPoint(t *testing.T) {
	pixels, stride := blankFrame(10, 10)
	snap := annotation.Snapshot{
		Strokes: []annotation.Stroke{{Point: annotation.Point{X: 5, Y: 5}, Color: annotation.Red, Radius: 1}},
	}

	Apply(pixels, stride, 10, 10, snap)

	b, g, r, a := pixelAt(pixels, stride, 5, 5)
	if got := (annotation.Color{B: b, G: g, R: r, A: a}); got != annotation.Red {
		t.Fatalf("center pixel = %v, want %v", got, annotation.Red)
	}

	b, g, r, a = pixelAt(pixels, stride, 8, 8)
	if got := (annotation.Color{B: b, G: g, R: r, A: a}); got != (annotation.Color{}) {
		t.Fatalf("pixel outside radius = %v, want zero value", got)
	}
}

func TestApplyMosaicFlattensBlockToTopLeftPixel(t *testing.T) {
	pixels, stride := blankFrame(8, 8)
	// Seed the top-left of the zone with a distinctive color; the mosaic
	// pass should stamp it across the whole block.
	pixels[0], pixels[1], pixels[2], pixels[3] = 10, 20, 30, 255

	snap := annotation.Snapshot{Zones: []annotation.Zone{{X: 0, Y: 0, W: 4, H: 4, BlockSize: 4}}}
	Apply(pixels, stride, 8, 8, snap)

	b, g, r, a := pixelAt(pixels, stride, 3, 3)
	if b != 10 || g != 20 || r != 30 || a != 255 {
		t.Fatalf("pixel inside block = (%d,%d,%d,%d), want (10,20,30,255)", b, g, r, a)
	}

	b, g, r, a = pixelAt(pixels, stride, 5, 5)
	if b != 0 || g != 0 || r != 0 || a != 0 {
		t.Fatalf("pixel outside zone = (%d,%d,%d,%d), want zero", b, g, r, a)
	}
}

func TestApplyStrokesPaintOverMosaic(t *testing.T) {
	pixels, stride := blankFrame(10, 10)
	snap := annotation.Snapshot{
		Zones:   []annotation.Zone{{X: 0, Y: 0, W: 10, H: 10, BlockSize: 5}},
		Strokes: []annotation.Stroke{{Point: annotation.Point{X: 5, Y: 5}, Color: annotation.Red, Radius: 1}},
	}

	Apply(pixels, stride, 10, 10, snap)

	b, g, r, a := pixelAt(pixels, stride, 5, 5)
	if got := (annotation.Color{B: b, G: g, R: r, A: a}); got != annotation.Red {
		t.Fatalf("stroke pixel = %v, want %v (stroke should paint over mosaic)", got, annotation.Red)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	pixels, stride := blankFrame(10, 10)
	snap := annotation.Snapshot{
		Zones:   []annotation.Zone{{X: 0, Y: 0, W: 10, H: 10, BlockSize: 5}},
		Strokes: []annotation.Stroke{{Point: annotation.Point{X: 5, Y: 5}, Color: annotation.Red, Radius: 1}},
	}

	Apply(pixels, stride, 10, 10, snap)
	once := append([]byte(nil), pixels...)
	Apply(pixels, stride, 10, 10, snap)

	if !bytes.Equal(once, pixels) {
		t.Fatal("second Apply() with the same snapshot changed the pixel buffer")
	}
}

func TestApplyClipsToFrameBounds(t *testing.T) {
	pixels, stride := blankFrame(4, 4)
	snap := annotation.Snapshot{
		Strokes: []annotation.Stroke{{Point: annotation.Point{X: 0, Y: 0}, Color: annotation.Red, Radius: 5}},
	}

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Apply() panicked on out-of-bounds geometry: %v", r)
		}
	}()
	Apply(pixels, stride, 4, 4, snap)
}

func TestApplyEmptySnapshotIsNoOp(t *testing.T) {
	pixels, stride := blankFrame(4, 4)
	before := append([]byte(nil), pixels...)

	Apply(pixels, stride, 4, 4, annotation.Snapshot{})
	if !bytes.Equal(before, pixels) {
		t.Fatal("Apply() with an empty snapshot mutated the pixel buffer")
	}
}
