package inference

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}

	t.Run("planar layout", func(t *testing.T) {
		dst := make([]float32, 3*4*4)
		require.NoError(t, PrepareInput(img, 4, dst))
		assert.InDelta(t, 1.0, dst[0], 1e-6)
		assert.InDelta(t, 0.0, dst[16], 1e-6)
		assert.InDelta(t, 0.2, dst[32], 1e-6)
	})

	t.Run("resizes", func(t *testing.T) {
		dst := make([]float32, 3*8*8)
		require.NoError(t, PrepareInput(img, 8, dst))
		assert.InDelta(t, 1.0, dst[63], 0.01)
	})

	t.Run("short buffer", func(t *testing.T) {
		assert.Error(t, PrepareInput(img, 4, make([]float32, 10)))
	})
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "person", ClassName(YOLOClasses, 0))
	assert.Equal(t, "toothbrush", ClassName(YOLOClasses, 79))
	assert.Equal(t, "class_80", ClassName(YOLOClasses, 80))
	assert.Equal(t, 80, len(YOLOClasses))
}
