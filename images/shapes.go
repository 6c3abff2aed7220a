// Package images - pixel-space geometry shared by the detector, segmenter and exporters.
package images

import "image"

// Rect is a lightweight integral rectangle.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Width returns X2 - X1.
func (r Rect) Width() int {
	return r.X2 - r.X1
}

// Height returns Y2 - Y1.
func (r Rect) Height() int {
	return r.Y2 - r.Y1
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.X1 >= r.X2 || r.Y1 >= r.Y2
}

// Area returns the number of pixels covered, 0 for empty rectangles.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Width() * r.Height()
}

// Contains reports whether pixel x, y lies inside the rectangle.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X1 && x < r.X2 && y >= r.Y1 && y < r.Y2
}

// Intersect returns the overlap of r and o. The result is empty when the two
// do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
		X2: min(r.X2, o.X2),
		Y2: min(r.Y2, o.Y2),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// Clip restricts the rectangle to a width x height frame.
func (r Rect) Clip(width, height int) Rect {
	return r.Intersect(Rect{X1: 0, Y1: 0, X2: width, Y2: height})
}

// ToImageRect converts to an image.Rectangle.
func (r Rect) ToImageRect() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// FromImageRect converts an image.Rectangle to a Rect.
func FromImageRect(r image.Rectangle) Rect {
	r = r.Canon()
	return Rect{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}
