// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-insights/common"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 // Overlap threshold for suppression.
	ClassAware   bool    // If true, suppress only within same class.
}

// DefaultNMSConfig returns the thresholds used by the YOLOv8 exporter.
func DefaultNMSConfig() *NMSConfig {
	return &NMSConfig{IoUThreshold: 0.7, ClassAware: true}
}

// SortByConfidence orders detections by descending confidence, keeping the
// original order for ties.
func SortByConfidence(detections []common.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Slice of detections sorted by descending confidence.
//   - config: NMS configuration. With ClassAware set, a box only suppresses
//     boxes carrying the same label.
//
// Returns:
//   - Filtered slice of detections in input order. If no detections are
//     provided, returns nil.
func ApplyGreedyNMS(detections []common.Detection, config *NMSConfig) []common.Detection {
	n := len(detections)
	if n == 0 {
		return nil
	}

	filtered := make([]common.Detection, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := detections[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && anchor.Label != detections[j].Label {
				continue
			}
			// Suppress if IoU exceeds threshold
			if anchor.Box.IoU(detections[j].Box) > config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
