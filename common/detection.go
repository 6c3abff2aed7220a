package common

import "fmt"

// Untracked is the track ID of a detection that has not been assigned an
// identity, either because tracking is disabled or the tracker skipped it.
const Untracked = -1

// Detection is a single object found in a frame.
type Detection struct {
	// Label is the class name produced by the detector. It is forwarded as-is.
	Label string
	// Confidence is the detector score in [0, 1].
	Confidence float32
	// Box is the object location in source-frame pixels.
	Box BoundingBox
	// TrackID is the tracker identity or Untracked.
	TrackID int
	// Mask is the optional per-pixel mask, limited to Box.
	Mask *Mask
	// MaskPath is where Mask was persisted, if anywhere.
	MaskPath string
}

// NewDetection returns an untracked detection.
func NewDetection(label string, confidence float32, box BoundingBox) Detection {
	return Detection{Label: label, Confidence: confidence, Box: box, TrackID: Untracked}
}

// Tracked reports whether the detection carries a track identity.
func (d Detection) Tracked() bool {
	return d.TrackID != Untracked
}

func (d Detection) String() string {
	return fmt.Sprintf("#%d %s (confidence %.2f): %s", d.TrackID, d.Label, d.Confidence, d.Box)
}
