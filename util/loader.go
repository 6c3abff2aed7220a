package util

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	framePrefix = "frame_"
	// FrameExt is the extension extracted frames are written with.
	FrameExt = ".jpg"
	// MaskExt is the extension object masks are written with.
	MaskExt = ".png"
)

// FrameFileName returns the file name of an extracted frame.
func FrameFileName(index int) string {
	return fmt.Sprintf("%s%04d%s", framePrefix, index, FrameExt)
}

// MaskFileName returns the file name of an object mask within a frame.
func MaskFileName(frameIndex, objectIndex int) string {
	return fmt.Sprintf("%s%04d_mask_%d%s", framePrefix, frameIndex, objectIndex, MaskExt)
}

// ParseFrameFileName extracts the frame index from a frame file name. ok is
// false for anything else, masks included.
func ParseFrameFileName(name string) (int, bool) {
	ext := filepath.Ext(name)
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".bmp":
	default:
		return 0, false
	}
	if !strings.HasPrefix(name, framePrefix) {
		return 0, false
	}
	frame, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, framePrefix), ext))
	if err != nil || frame < 0 {
		return 0, false
	}
	return frame, true
}

// FrameFile represents an extracted frame image on disk.
type FrameFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame index of the image file.
	Frame int
}

// ReadData returns the raw bytes of the image file.
func (f FrameFile) ReadData() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// LoadFrameFiles lists the extracted frames in a directory.
//
// Arguments:
// - dir: Directory path containing frame images.
//
// Returns:
// - []FrameFile: Frames sorted by index. Masks and unrelated files are skipped.
// - error: Error if the directory cannot be read.
func LoadFrameFiles(dir string) ([]FrameFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var frames []FrameFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		frame, ok := ParseFrameFileName(file.Name())
		if !ok {
			continue
		}
		frames = append(frames, FrameFile{
			Path:  filepath.Join(dir, file.Name()),
			Frame: frame,
		})
	}

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Frame < frames[j].Frame
	})

	return frames, nil
}
