// Package results defines the segmentation artifact and the aggregator that
// builds it frame by frame.
package results

import (
	"github.com/nvr-ai/go-insights/common"
)

// ArtifactName is the file name of the committed artifact inside a run's
// frame directory.
const ArtifactName = "segmentation_results.json"

// VideoMetadata describes the source video and how it was sampled.
type VideoMetadata struct {
	NativeFPS       float64 `json:"native_fps"`
	TotalFrames     int     `json:"total_frames"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"duration_seconds"`
	ExtractedFrames int     `json:"extracted_frames"`
	ExtractionFPS   float64 `json:"extraction_fps"`
}

// Timestamp is the sampled-timeline time of an extracted frame: index
// divided by the extraction rate.
func Timestamp(index int, extractionFPS float64) float64 {
	if extractionFPS <= 0 {
		return 0
	}
	return float64(index) / extractionFPS
}

// Object is one detection as persisted in the artifact.
type Object struct {
	ID         int        `json:"id"`
	ClassName  string     `json:"class_name"`
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
	MaskPath   string     `json:"mask_path,omitempty"`
}

// NewObject converts a detection to its persisted form.
func NewObject(d common.Detection) Object {
	return Object{
		ID:         d.TrackID,
		ClassName:  d.Label,
		BBox:       d.Box.Array(),
		Confidence: float64(d.Confidence),
		MaskPath:   d.MaskPath,
	}
}

// Box returns the object's bounding box.
func (o Object) Box() common.BoundingBox {
	return common.BoxFromArray(o.BBox)
}

// Tracked reports whether the object carries a track identity.
func (o Object) Tracked() bool {
	return o.ID != common.Untracked
}

// FrameRecord holds everything found in one extracted frame.
type FrameRecord struct {
	FrameIndex int      `json:"frame_index"`
	Timestamp  float64  `json:"timestamp"`
	Objects    []Object `json:"objects"`
}

// Stats are aggregate counts over a run.
type Stats struct {
	TotalFrames           int            `json:"total_frames"`
	TotalObjects          int            `json:"total_objects"`
	UniqueObjects         int            `json:"unique_objects"`
	ObjectsPerClass       map[string]int `json:"objects_per_class"`
	AvgObjectsPerFrame    float64        `json:"avg_objects_per_frame"`
	ProcessingTimeSeconds float64        `json:"processing_time_seconds"`
}

// SegmentationResult is the canonical artifact of a segmentation run.
type SegmentationResult struct {
	VideoMetadata VideoMetadata `json:"video_metadata"`
	Frames        []FrameRecord `json:"frames"`
	Stats         Stats         `json:"stats"`
}

// Counts returns the per-frame object counts in frame order.
func (r *SegmentationResult) Counts() []float64 {
	counts := make([]float64, len(r.Frames))
	for i, f := range r.Frames {
		counts[i] = float64(len(f.Objects))
	}
	return counts
}
