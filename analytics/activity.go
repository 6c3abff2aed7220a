package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/nvr-ai/go-insights/results"
)

const (
	// WindowSize is the number of frames averaged into one activity label.
	WindowSize = 30
	// StationaryThreshold is the displacement below which a window's tracks
	// are considered stationary.
	StationaryThreshold = 10.0
	// ActivityConfidence is the fixed confidence of every activity.
	ActivityConfidence = 0.85
)

// Base activity labels.
const (
	LabelEmpty    = "Empty Scene"
	LabelLight    = "Light Activity"
	LabelModerate = "Moderate Activity"
	LabelHigh     = "High Activity"
)

// Activity is a labelled, inclusive frame interval.
type Activity struct {
	StartFrame int     `json:"start_frame"`
	EndFrame   int     `json:"end_frame"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DensityLabel maps a mean object count to a base label.
func DensityLabel(meanCount float64) string {
	switch {
	case meanCount <= 0:
		return LabelEmpty
	case meanCount <= 5:
		return LabelLight
	case meanCount <= 15:
		return LabelModerate
	default:
		return LabelHigh
	}
}

// DetectActivities labels fixed windows of frames and merges consecutive
// windows with the same label. The intervals returned cover every frame
// exactly once.
func DetectActivities(result *results.SegmentationResult) []Activity {
	activities := []Activity{}
	if result == nil || len(result.Frames) == 0 {
		return activities
	}
	frames := result.Frames
	counts := result.Counts()

	for start := 0; start < len(frames); start += WindowSize {
		end := min(start+WindowSize, len(frames))
		window := frames[start:end]
		label := windowLabel(window, counts[start:end])

		first := window[0].FrameIndex
		last := window[len(window)-1].FrameIndex
		if n := len(activities); n > 0 && activities[n-1].Label == label {
			activities[n-1].EndFrame = last
			continue
		}
		activities = append(activities, Activity{
			StartFrame: first,
			EndFrame:   last,
			Label:      label,
			Confidence: ActivityConfidence,
		})
	}
	return activities
}

// windowLabel labels window; counts are its per-frame object counts.
func windowLabel(window []results.FrameRecord, counts []float64) string {
	base := DensityLabel(stat.Mean(counts, nil))
	if base == LabelEmpty {
		return base
	}

	dx, dy, ok := meanDisplacement(window)
	if !ok {
		return base
	}
	return base + " (" + movementLabel(dx, dy) + ")"
}

// meanDisplacement averages first-to-last displacement of every track with at
// least two points in the window. ok is false when no track qualifies.
func meanDisplacement(window []results.FrameRecord) (dx, dy float64, ok bool) {
	var n int
	for _, tr := range results.Tracks(window) {
		if len(tr.Points) < 2 {
			continue
		}
		first, last := tr.Points[0], tr.Points[len(tr.Points)-1]
		dx += last.X - first.X
		dy += last.Y - first.Y
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return dx / float64(n), dy / float64(n), true
}

func movementLabel(dx, dy float64) string {
	if math.Hypot(dx, dy) < StationaryThreshold {
		return "Stationary"
	}
	if math.Abs(dx) > math.Abs(dy) {
		if dx > 0 {
			return "Moving Right"
		}
		return "Moving Left"
	}
	if dy > 0 {
		return "Moving Down"
	}
	return "Moving Up"
}
