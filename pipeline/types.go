package pipeline

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/nvr-ai/go-insights/common"
	"github.com/nvr-ai/go-insights/results"
	"github.com/nvr-ai/go-insights/segment"
	"github.com/nvr-ai/go-insights/tracker"
)

// Extractor samples a video into a directory of frames.
type Extractor interface {
	ExtractToDir(ctx context.Context, videoPath, dir string) ([]common.FrameRef, results.VideoMetadata, error)
}

// FrameLoader reloads an extracted frame.
type FrameLoader interface {
	Load(ref common.FrameRef) (image.Image, error)
}

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]common.Detection, error)
}

// MaskWriter persists an object mask and returns its path.
type MaskWriter interface {
	WriteMask(dir string, frameIndex, objectIndex int, mask *common.Mask, width, height int) (string, error)
}

// Annotator renders tracked frames into a video.
type Annotator interface {
	WriteFrame(img image.Image, detections []common.Detection) error
	Close() error
}

// Deps are the collaborators of a run. Extractor, Loader and Detector are
// required; the rest are optional.
type Deps struct {
	Extractor Extractor
	Loader    FrameLoader
	Detector  Detector
	Segmenter segment.Segmenter
	// NewTracker is called once per run.
	NewTracker func() tracker.Tracker
	Masks      MaskWriter
	// NewAnnotator is called once per run when Input.AnnotatedPath is set.
	NewAnnotator func(path string, fps float64) Annotator
}

// Config tunes a run.
type Config struct {
	// ProgressEvery is the frame cadence of progress updates.
	ProgressEvery int `json:"progress_every" yaml:"progress_every"`
}

// DefaultConfig returns the default run settings.
func DefaultConfig() Config {
	return Config{ProgressEvery: 5}
}

// Input identifies one run.
type Input struct {
	// RunID is attached to every log line of the run.
	RunID string
	// VideoPath is the source video.
	VideoPath string
	// FrameDir receives frames, masks and the artifact.
	FrameDir string
	// AnnotatedPath, when set, receives the annotated video.
	AnnotatedPath string
}

// ArtifactPath is where the run commits its result.
func (in Input) ArtifactPath() string {
	return filepath.Join(in.FrameDir, results.ArtifactName)
}

// Stage names a step of the frame loop.
type Stage string

// Stages of a run. StageCancel marks a run stopped by its context between
// frames.
const (
	StageExtract Stage = "extract"
	StageLoad    Stage = "load"
	StageDetect  Stage = "detect"
	StageCommit  Stage = "commit"
	StageCancel  Stage = "cancel"
)

// StageError is a run failure with the stage and frame it happened at.
// FrameIndex is -1 for failures outside the frame loop.
type StageError struct {
	Stage      Stage
	FrameIndex int
	Err        error
}

func (e *StageError) Error() string {
	if e.FrameIndex < 0 {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed at frame %d: %v", e.Stage, e.FrameIndex, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
