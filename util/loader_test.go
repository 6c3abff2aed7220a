package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileNames(t *testing.T) {
	assert.Equal(t, "frame_0007.jpg", FrameFileName(7))
	assert.Equal(t, "frame_0007_mask_2.png", MaskFileName(7, 2))
	assert.Equal(t, "frame_12345.jpg", FrameFileName(12345))

	idx, ok := ParseFrameFileName(FrameFileName(42))
	assert.True(t, ok)
	assert.Equal(t, 42, idx)

	_, ok = ParseFrameFileName(MaskFileName(1, 0))
	assert.False(t, ok)
	_, ok = ParseFrameFileName("segmentation_results.json")
	assert.False(t, ok)
}

func TestLoadFrameFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		FrameFileName(2), FrameFileName(0), FrameFileName(10),
		MaskFileName(0, 0), "segmentation_results.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "frame_0003.jpg.d"), 0o755))

	frames, err := LoadFrameFiles(dir)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []int{0, 2, 10}, []int{frames[0].Frame, frames[1].Frame, frames[2].Frame})

	data, err := frames[1].ReadData()
	require.NoError(t, err)
	assert.Equal(t, []byte("frame_0002.jpg"), data)

	_, err = LoadFrameFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
