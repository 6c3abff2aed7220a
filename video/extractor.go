// Package video reads source videos with gocv and writes the frame, mask and
// annotated-video side outputs of a run.
package video

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-insights/common"
	"github.com/nvr-ai/go-insights/results"
)

// ErrVideoOpen is returned when a container cannot be opened or yields no
// readable frames.
var ErrVideoOpen = errors.New("video cannot be opened")

// Capture is the subset of *gocv.VideoCapture used for extraction.
type Capture interface {
	Read(m *gocv.Mat) bool
	Get(prop gocv.VideoCaptureProperties) float64
	IsOpened() bool
	Close() error
}

// Opener opens a video container.
type Opener func(path string) (Capture, error)

// OpenFile opens a video file with gocv.
func OpenFile(path string) (Capture, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, err
	}
	return vc, nil
}

// Sink receives extracted frames.
type Sink interface {
	// Write stores frame under index and returns where it went.
	Write(index int, frame gocv.Mat) (string, error)
}

// Options control sampling.
type Options struct {
	// TargetFPS is the sampling rate. Non-positive means every native frame.
	TargetFPS float64 `json:"extraction_fps" yaml:"extraction_fps"`
	// MaxFrames caps the number of extracted frames. 0 means no cap.
	MaxFrames int `json:"max_frames" yaml:"max_frames"`
}

// Extractor samples frames from a video at a fixed rate.
type Extractor struct {
	opts   Options
	open   Opener
	logger zerolog.Logger
}

// NewExtractor creates an extractor that opens files with gocv.
func NewExtractor(opts Options, logger zerolog.Logger) *Extractor {
	return &Extractor{
		opts:   opts,
		open:   OpenFile,
		logger: logger.With().Str("component", "extractor").Logger(),
	}
}

// WithOpener replaces how containers are opened.
func (e *Extractor) WithOpener(open Opener) *Extractor {
	e.open = open
	return e
}

// FrameInterval returns how many native frames separate two extracted ones.
// It is round(native/target) and never less than 1.
func FrameInterval(nativeFPS, targetFPS float64) int {
	if nativeFPS <= 0 || targetFPS <= 0 {
		return 1
	}
	return max(1, int(math.Round(nativeFPS/targetFPS)))
}

// Extract writes every FrameInterval-th native frame to sink, numbering
// extracted frames 0, 1, 2, ... without gaps.
//
// Arguments:
//   - ctx: Checked between frames.
//   - path: The source video.
//   - sink: Where extracted frames go.
//
// Returns:
//   - []common.FrameRef: Extracted frames in order.
//   - results.VideoMetadata: Source properties and sampling information.
//   - error: ErrVideoOpen if the video cannot be read, or a sink error.
func (e *Extractor) Extract(ctx context.Context, path string, sink Sink) ([]common.FrameRef, results.VideoMetadata, error) {
	capture, meta, err := e.probe(path)
	if err != nil {
		return nil, results.VideoMetadata{}, err
	}
	defer capture.Close()

	targetFPS := e.opts.TargetFPS
	if targetFPS <= 0 {
		targetFPS = meta.NativeFPS
	}
	interval := FrameInterval(meta.NativeFPS, targetFPS)
	meta.ExtractionFPS = targetFPS

	e.logger.Debug().
		Str("path", path).
		Float64("native_fps", meta.NativeFPS).
		Int("interval", interval).
		Msg("extracting frames")

	frame := gocv.NewMat()
	defer frame.Close()

	var refs []common.FrameRef
	native := 0
	for capture.Read(&frame) && !frame.Empty() {
		if err := ctx.Err(); err != nil {
			return nil, results.VideoMetadata{}, err
		}
		take := native%interval == 0
		native++
		if !take {
			continue
		}

		out, err := sink.Write(len(refs), frame)
		if err != nil {
			return nil, results.VideoMetadata{}, errors.Wrapf(err, "writing frame %d", len(refs))
		}
		refs = append(refs, common.FrameRef{Index: len(refs), Path: out})
		if e.opts.MaxFrames > 0 && len(refs) >= e.opts.MaxFrames {
			break
		}
	}

	if native == 0 {
		return nil, results.VideoMetadata{}, errors.Wrapf(ErrVideoOpen, "%s: no readable frames", path)
	}
	if meta.TotalFrames <= 0 {
		meta.TotalFrames = native
	}
	if meta.NativeFPS > 0 {
		meta.DurationSeconds = float64(meta.TotalFrames) / meta.NativeFPS
	}
	meta.ExtractedFrames = len(refs)

	e.logger.Info().
		Str("path", path).
		Int("extracted", len(refs)).
		Int("native_read", native).
		Msg("extraction complete")
	return refs, meta, nil
}

// ExtractToDir extracts into a DirSink rooted at dir.
func (e *Extractor) ExtractToDir(ctx context.Context, path, dir string) ([]common.FrameRef, results.VideoMetadata, error) {
	sink, err := NewDirSink(dir)
	if err != nil {
		return nil, results.VideoMetadata{}, err
	}
	return e.Extract(ctx, path, sink)
}

// Probe checks that path opens and returns its native properties without
// extracting anything.
func (e *Extractor) Probe(path string) (results.VideoMetadata, error) {
	capture, meta, err := e.probe(path)
	if err != nil {
		return results.VideoMetadata{}, err
	}
	capture.Close()
	return meta, nil
}

func (e *Extractor) probe(path string) (Capture, results.VideoMetadata, error) {
	capture, err := e.open(path)
	if err != nil {
		return nil, results.VideoMetadata{}, errors.Wrapf(ErrVideoOpen, "%s: %v", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, results.VideoMetadata{}, errors.Wrapf(ErrVideoOpen, "%s", path)
	}

	meta := results.VideoMetadata{
		NativeFPS:   capture.Get(gocv.VideoCaptureFPS),
		TotalFrames: int(capture.Get(gocv.VideoCaptureFrameCount)),
		Width:       int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:      int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}
	if meta.NativeFPS > 0 && meta.TotalFrames > 0 {
		meta.DurationSeconds = float64(meta.TotalFrames) / meta.NativeFPS
	}
	return capture, meta, nil
}
