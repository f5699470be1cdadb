// Package compositor mutates a BGRA pixel buffer in place to apply mosaic
// zones and pen strokes from an annotation snapshot.
package compositor

import "retrocam.app/recorder/annotation"

const bytesPerPixel = 4

// Apply mutates pixels (row-major BGRA, the given stride in bytes) in place:
// mosaic zones first, then strokes, so strokes always paint over mosaic and
// never behind it. Pixels outside the frame bounds are silently skipped.
// Empty zone/stroke lists are no-ops. Calling Apply twice with the same
// snapshot is idempotent: both passes are pure overwrites keyed only by
// geometry and color, never by prior pixel values.
func Apply(pixels []byte, stride, width, height int, snap annotation.Snapshot) {
	for _, z := range snap.Zones {
		applyMosaic(pixels, stride, width, height, z)
	}
	for _, st := range snap.Strokes {
		applyStroke(pixels, stride, width, height, st)
	}
}

func applyMosaic(pixels []byte, stride, width, height int, z annotation.Zone) {
	block := z.BlockSize
	if block <= 0 {
		block = annotation.DefaultMosaicBlockSize
	}
	if z.W <= 0 || z.H <= 0 {
		return
	}

	// Cell grid is anchored to the zone's own origin, then each cell is
	// clipped independently to both the zone bounds and the frame bounds.
	x0, y0, x1, y1 := clipRect(z.X, z.Y, z.W, z.H, width, height)
	if x0 >= x1 || y0 >= y1 {
		return
	}

	for cellY := z.Y; cellY < z.Y+z.H; cellY += block {
		cellTop, cellBottom := cellY, cellY+block
		if cellTop < y0 {
			cellTop = y0
		}
		if cellBottom > y1 {
			cellBottom = y1
		}
		if cellTop >= cellBottom {
			continue
		}

		for cellX := z.X; cellX < z.X+z.W; cellX += block {
			cellLeft, cellRight := cellX, cellX+block
			if cellLeft < x0 {
				cellLeft = x0
			}
			if cellRight > x1 {
				cellRight = x1
			}
			if cellLeft >= cellRight {
				continue
			}

			b, g, r, a := readPixel(pixels, stride, cellLeft, cellTop)
			fillRect(pixels, stride, cellLeft, cellTop, cellRight, cellBottom, b, g, r, a)
		}
	}
}

func applyStroke(pixels []byte, stride, width, height int, st annotation.Stroke) {
	r := st.Radius
	if r <= 0 {
		r = annotation.DefaultStrokeRadius
	}

	x0, y0, x1, y1 := clipRect(st.X-r, st.Y-r, 2*r+1, 2*r+1, width, height)
	if x0 >= x1 || y0 >= y1 {
		return
	}
	fillRect(pixels, stride, x0, y0, x1, y1, st.Color.B, st.Color.G, st.Color.R, st.Color.A)
}

// clipRect clips [x,x+w) x [y,y+h) to [0,width) x [0,height) and returns the
// resulting half-open bounds.
func clipRect(x, y, w, h, width, height int) (x0, y0, x1, y1 int) {
	x0, y0 = x, y
	x1, y1 = x+w, y+h
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	return
}

func readPixel(pixels []byte, stride, x, y int) (b, g, r, a byte) {
	off := y*stride + x*bytesPerPixel
	if off < 0 || off+4 > len(pixels) {
		return 0, 0, 0, 0
	}
	return pixels[off], pixels[off+1], pixels[off+2], pixels[off+3]
}

func fillRect(pixels []byte, stride, x0, y0, x1, y1 int, b, g, r, a byte) {
	for y := y0; y < y1; y++ {
		rowOff := y * stride
		for x := x0; x < x1; x++ {
			off := rowOff + x*bytesPerPixel
			if off < 0 || off+4 > len(pixels) {
				continue
			}
			pixels[off] = b
			pixels[off+1] = g
			pixels[off+2] = r
			pixels[off+3] = a
		}
	}
}
