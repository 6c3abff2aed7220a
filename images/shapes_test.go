package images

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRect_ClipAndContains(t *testing.T) {
	r := Rect{X1: -10, Y1: 5, X2: 50, Y2: 500}
	clipped := r.Clip(40, 100)

	assert.Equal(t, Rect{X1: 0, Y1: 5, X2: 40, Y2: 100}, clipped)
	assert.True(t, clipped.Contains(0, 5))
	assert.False(t, clipped.Contains(40, 5), "X2 is exclusive")
	assert.Equal(t, Rect{}, Rect{X1: 50, Y1: 50, X2: 60, Y2: 60}.Clip(40, 40))
	assert.Equal(t, Rect{X1: 1, Y1: 2, X2: 3, Y2: 4}, FromImageRect(image.Rect(3, 4, 1, 2)))
}
