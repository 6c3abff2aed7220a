package detectors

import (
	"fmt"

	"github.com/nvr-ai/go-insights/common"
	"github.com/nvr-ai/go-insights/inference"
	"github.com/nvr-ai/go-insights/models/postprocess"
)

// OutputLayout describes a YOLOv8 output tensor of shape [1, 4+classes, anchors].
type OutputLayout struct {
	InputSize int
	Anchors   int
	Classes   []string
}

// ProcessInferenceOutput decodes raw YOLOv8 output into detections in source
// pixel coordinates.
//
// Candidates below the confidence threshold or outside the relevant classes
// are dropped, boxes are clamped to the frame, and class-aware greedy NMS is
// applied. The result is ordered by descending confidence.
//
// Arguments:
//   - output: The flattened output tensor.
//   - layout: The tensor layout.
//   - width, height: The source frame size.
//   - config: Thresholds and class filter.
//
// Returns:
//   - []common.Detection: Untracked detections.
//   - error: If the output buffer is smaller than the layout requires.
func ProcessInferenceOutput(
	output []float32,
	layout OutputLayout,
	width, height int,
	config Config,
) ([]common.Detection, error) {
	n := layout.Anchors
	numClasses := len(layout.Classes)
	if len(output) < n*(4+numClasses) {
		return nil, fmt.Errorf("output holds %d floats, layout needs %d", len(output), n*(4+numClasses))
	}

	relevant := make(map[string]bool, len(config.RelevantClasses))
	for _, c := range config.RelevantClasses {
		relevant[c] = true
	}

	scaleX := float32(width) / float32(layout.InputSize)
	scaleY := float32(height) / float32(layout.InputSize)

	candidates := make([]common.Detection, 0, 64)
	for idx := 0; idx < n; idx++ {
		classID := 0
		probability := float32(-1e9)
		for col := 0; col < numClasses; col++ {
			if p := output[n*(col+4)+idx]; p > probability {
				probability = p
				classID = col
			}
		}
		if probability < config.ConfidenceThreshold {
			continue
		}

		label := inference.ClassName(layout.Classes, classID)
		if len(relevant) > 0 && !relevant[label] {
			continue
		}

		xc, yc := output[idx], output[n+idx]
		w, h := output[2*n+idx], output[3*n+idx]
		box := common.Box(
			(xc-w/2)*scaleX,
			(yc-h/2)*scaleY,
			(xc+w/2)*scaleX,
			(yc+h/2)*scaleY,
		).Clamp(width, height)
		if !box.Valid() {
			continue
		}

		candidates = append(candidates, common.NewDetection(label, min(probability, 1), box))
	}

	postprocess.SortByConfidence(candidates)
	return postprocess.ApplyGreedyNMS(candidates, &postprocess.NMSConfig{
		IoUThreshold: config.NMSThreshold,
		ClassAware:   true,
	}), nil
}
