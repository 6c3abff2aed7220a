package common

import (
	"image"

	"github.com/nvr-ai/go-insights/images"
)

// Mask is a binary object mask restricted to a pixel rectangle of a frame.
//
// Only pixels inside Bounds are stored, so a mask can never extend beyond the
// bounding box it was produced for.
type Mask struct {
	Bounds images.Rect
	Pix    []uint8
}

// NewMask allocates an empty mask covering bounds.
func NewMask(bounds images.Rect) *Mask {
	n := bounds.Width() * bounds.Height()
	if n < 0 {
		n = 0
	}
	return &Mask{Bounds: bounds, Pix: make([]uint8, n)}
}

// Set marks the frame pixel x, y as foreground. Pixels outside Bounds are
// ignored.
func (m *Mask) Set(x, y int, on bool) {
	if !m.Bounds.Contains(x, y) {
		return
	}
	i := (y-m.Bounds.Y1)*m.Bounds.Width() + (x - m.Bounds.X1)
	if on {
		m.Pix[i] = 255
	} else {
		m.Pix[i] = 0
	}
}

// At reports whether the frame pixel x, y is foreground.
func (m *Mask) At(x, y int) bool {
	if !m.Bounds.Contains(x, y) {
		return false
	}
	return m.Pix[(y-m.Bounds.Y1)*m.Bounds.Width()+(x-m.Bounds.X1)] != 0
}

// Area returns the number of foreground pixels.
func (m *Mask) Area() int {
	n := 0
	for _, p := range m.Pix {
		if p != 0 {
			n++
		}
	}
	return n
}

// Gray renders the mask onto a width x height frame-sized grayscale image.
func (m *Mask) Gray(width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	r := m.Bounds.Clip(width, height)
	for y := r.Y1; y < r.Y2; y++ {
		for x := r.X1; x < r.X2; x++ {
			if m.At(x, y) {
				img.Pix[y*img.Stride+x] = 255
			}
		}
	}
	return img
}
