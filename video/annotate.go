package video

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-insights/common"
)

var (
	trackedColor   = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	untrackedColor = color.RGBA{R: 0, G: 165, B: 255, A: 0}
)

// AnnotatedWriter renders boxes and track labels onto frames and encodes them
// into an MP4 file. The writer is opened on the first frame so its size
// follows the source.
type AnnotatedWriter struct {
	path   string
	fps    float64
	writer *gocv.VideoWriter
}

// NewAnnotatedWriter prepares a writer for path at fps.
func NewAnnotatedWriter(path string, fps float64) *AnnotatedWriter {
	if fps <= 0 {
		fps = 1
	}
	return &AnnotatedWriter{path: path, fps: fps}
}

// Path returns the output file.
func (a *AnnotatedWriter) Path() string {
	return a.path
}

// WriteFrame draws detections onto img and appends it to the video.
func (a *AnnotatedWriter) WriteFrame(img image.Image, detections []common.Detection) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("converting frame: %w", err)
	}
	defer mat.Close()

	if a.writer == nil {
		if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
			return fmt.Errorf("creating video directory: %w", err)
		}
		w, err := gocv.VideoWriterFile(a.path, "mp4v", a.fps, mat.Cols(), mat.Rows(), true)
		if err != nil {
			return fmt.Errorf("opening video writer: %w", err)
		}
		a.writer = w
	}

	for _, d := range detections {
		c := untrackedColor
		if d.Tracked() {
			c = trackedColor
		}
		r := d.Box.ToImageRect()
		gocv.Rectangle(&mat, r, c, 2)
		gocv.PutText(&mat, Label(d), image.Pt(r.Min.X, max(r.Min.Y-6, 12)), gocv.FontHersheySimplex, 0.5, c, 1)
	}
	return a.writer.Write(mat)
}

// Label is the caption drawn above a detection.
func Label(d common.Detection) string {
	if d.Tracked() {
		return fmt.Sprintf("#%d %s %.2f", d.TrackID, d.Label, d.Confidence)
	}
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// Close finalises the video file.
func (a *AnnotatedWriter) Close() error {
	if a.writer == nil {
		return nil
	}
	err := a.writer.Close()
	a.writer = nil
	return err
}
