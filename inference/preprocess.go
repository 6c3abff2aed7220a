package inference

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// PrepareInput resizes img to size x size and writes it into dst as planar
// RGB floats in [0, 1] (CHW layout, the layout YOLOv8 and SAM exports take).
//
// Arguments:
//   - img: The image to prepare.
//   - size: The square model input side.
//   - dst: The destination tensor data to populate.
//
// Returns:
//   - error: If dst cannot hold 3 x size x size floats.
func PrepareInput(img image.Image, size int, dst []float32) error {
	channelSize := size * size
	if len(dst) < channelSize*3 {
		return fmt.Errorf("destination tensor only holds %d floats, needs "+
			"%d (make sure it's the right shape!)", len(dst), channelSize*3)
	}
	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	b := img.Bounds()
	if b.Dx() != size || b.Dy() != size {
		img = resize.Resize(uint(size), uint(size), img, resize.Bilinear)
		b = img.Bounds()
	}

	i := 0
	for y := b.Min.Y; y < b.Min.Y+size; y++ {
		for x := b.Min.X; x < b.Min.X+size; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(bl>>8) / 255.0
			i++
		}
	}
	return nil
}
