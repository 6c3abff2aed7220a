package common

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-insights/images"
)

// BoundingBox is an axis-aligned box in source-frame pixel coordinates.
//
// X1,Y1 is the top-left corner and X2,Y2 the bottom-right corner. A box is
// only meaningful when X1 < X2 and Y1 < Y2 (see Valid).
type BoundingBox struct {
	X1, Y1, X2, Y2 float32
}

// Box builds a BoundingBox from two corners.
func Box(x1, y1, x2, y2 float32) BoundingBox {
	return BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Area returns the box area, or 0 for degenerate boxes.
func (b BoundingBox) Area() float32 {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Center returns the midpoint of the box.
//
// Returns:
//   - The x and y coordinates of the center.
//
// @example
// b := Box(0, 0, 10, 20)
// x, y := b.Center() // 5, 10
func (b BoundingBox) Center() (float32, float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Valid reports whether the box has positive width and height.
func (b BoundingBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Intersection calculates the overlapping area of two boxes.
//
// Arguments:
//   - other: The box to intersect with.
//
// Returns:
//   - The intersection area, 0 if the boxes are disjoint.
func (b BoundingBox) Intersection(other BoundingBox) float32 {
	w := math32.Min(b.X2, other.X2) - math32.Max(b.X1, other.X1)
	h := math32.Min(b.Y2, other.Y2) - math32.Max(b.Y1, other.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection over union of two boxes in [0, 1].
//
// It works on sub-pixel coordinates, so small displacements between
// consecutive frames still change the score.
//
// Arguments:
//   - other: The box to compare against.
//
// Returns:
//   - The IoU score, 0 when either box is degenerate.
//
// @example
// a := Box(0, 0, 100, 100)
// b := Box(50, 50, 150, 150)
// a.IoU(b) // 2500 / 17500 = 0.142857
func (b BoundingBox) IoU(other BoundingBox) float32 {
	inter := b.Intersection(other)
	if inter == 0 {
		return 0
	}
	union := b.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Translate shifts the box by dx, dy.
func (b BoundingBox) Translate(dx, dy float32) BoundingBox {
	return BoundingBox{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Clamp restricts the box to a width x height frame.
func (b BoundingBox) Clamp(width, height int) BoundingBox {
	w, h := float32(width), float32(height)
	return BoundingBox{
		X1: math32.Max(0, math32.Min(b.X1, w)),
		Y1: math32.Max(0, math32.Min(b.Y1, h)),
		X2: math32.Max(0, math32.Min(b.X2, w)),
		Y2: math32.Max(0, math32.Min(b.Y2, h)),
	}
}

// ToRect converts the box to an integral pixel rectangle.
//
// The top-left corner is floored and the bottom-right corner is ceiled so the
// rectangle always covers every pixel the box touches.
func (b BoundingBox) ToRect() images.Rect {
	return images.Rect{
		X1: int(math32.Floor(b.X1)),
		Y1: int(math32.Floor(b.Y1)),
		X2: int(math32.Ceil(b.X2)),
		Y2: int(math32.Ceil(b.Y2)),
	}
}

// ToImageRect converts the box to an image.Rectangle.
func (b BoundingBox) ToImageRect() image.Rectangle {
	return b.ToRect().ToImageRect()
}

// Array returns the box as [x1, y1, x2, y2].
func (b BoundingBox) Array() [4]float64 {
	return [4]float64{float64(b.X1), float64(b.Y1), float64(b.X2), float64(b.Y2)}
}

// BoxFromArray is the inverse of Array.
func BoxFromArray(a [4]float64) BoundingBox {
	return BoundingBox{X1: float32(a[0]), Y1: float32(a[1]), X2: float32(a[2]), Y2: float32(a[3])}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%.1f, %.1f), (%.1f, %.1f)", b.X1, b.Y1, b.X2, b.Y2)
}
