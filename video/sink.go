package video

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-insights/common"
	"github.com/nvr-ai/go-insights/util"
)

// DirSink writes frames as JPEG files and masks as PNG files into a directory.
type DirSink struct {
	Dir string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating frame directory: %w", err)
	}
	return &DirSink{Dir: dir}, nil
}

// Write implements Sink.
func (s *DirSink) Write(index int, frame gocv.Mat) (string, error) {
	path := filepath.Join(s.Dir, util.FrameFileName(index))
	if ok := gocv.IMWrite(path, frame); !ok {
		return "", fmt.Errorf("failed to write %s", path)
	}
	return path, nil
}

// WriteMask stores a mask rendered onto a frame-sized canvas and returns its
// path.
func (s *DirSink) WriteMask(frameIndex, objectIndex int, mask *common.Mask, width, height int) (string, error) {
	mat, err := gocv.ImageGrayToMatGray(mask.Gray(width, height))
	if err != nil {
		return "", fmt.Errorf("converting mask: %w", err)
	}
	defer mat.Close()

	path := filepath.Join(s.Dir, util.MaskFileName(frameIndex, objectIndex))
	if ok := gocv.IMWrite(path, mat); !ok {
		return "", fmt.Errorf("failed to write %s", path)
	}
	return path, nil
}

// MaskFiles writes masks next to the frames of whichever directory it is
// given.
type MaskFiles struct{}

// WriteMask implements the pipeline's mask writer.
func (MaskFiles) WriteMask(dir string, frameIndex, objectIndex int, mask *common.Mask, width, height int) (string, error) {
	return (&DirSink{Dir: dir}).WriteMask(frameIndex, objectIndex, mask, width, height)
}

// LoadFrame reads an extracted frame back as an image.
func LoadFrame(path string) (image.Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to read frame %s", path)
	}
	defer mat.Close()

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("decoding frame %s: %w", path, err)
	}
	return img, nil
}

// FrameLoader loads extracted frames from disk.
type FrameLoader struct{}

// Load implements the pipeline's frame loader.
func (FrameLoader) Load(ref common.FrameRef) (image.Image, error) {
	return LoadFrame(ref.Path)
}
