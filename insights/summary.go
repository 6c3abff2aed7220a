// Package insights condenses a segmentation result into a prompt-sized summary
// and asks an OpenRouter-hosted model to narrate it.
package insights

import (
	"sort"

	"github.com/nvr-ai/go-insights/results"
)

// Default sample sizes used by BuildSummary callers.
const (
	DefaultFirstFrames = 5
	DefaultTopFrames   = 3
)

// SampleFrame is one frame as shown to the model.
type SampleFrame struct {
	FrameIndex  int      `json:"frame_index"`
	Timestamp   float64  `json:"timestamp"`
	ObjectCount int      `json:"object_count"`
	Classes     []string `json:"classes"`
}

// Summary is the sampled view of a run sent for narration.
type Summary struct {
	TotalFrames        int            `json:"total_frames"`
	TotalObjects       int            `json:"total_objects"`
	AvgObjectsPerFrame float64        `json:"avg_objects_per_frame"`
	ObjectsPerClass    map[string]int `json:"objects_per_class"`
	SampleFrames       []SampleFrame  `json:"sample_frames"`
}

// BuildSummary samples the first firstN frames, then the topN busiest frames
// that were not already sampled.
//
// Arguments:
//   - result: The segmentation result to summarise.
//   - firstN: Number of leading frames to include.
//   - topN: Number of highest-count frames to consider.
//
// Returns:
//   - Summary: Run statistics plus the sampled frames.
func BuildSummary(result *results.SegmentationResult, firstN, topN int) Summary {
	s := Summary{
		TotalFrames:        result.Stats.TotalFrames,
		TotalObjects:       result.Stats.TotalObjects,
		AvgObjectsPerFrame: result.Stats.AvgObjectsPerFrame,
		ObjectsPerClass:    result.Stats.ObjectsPerClass,
		SampleFrames:       []SampleFrame{},
	}
	if s.ObjectsPerClass == nil {
		s.ObjectsPerClass = map[string]int{}
	}

	frames := result.Frames
	lead := min(max(firstN, 0), len(frames))
	for _, f := range frames[:lead] {
		s.SampleFrames = append(s.SampleFrames, sample(f))
	}

	busiest := make([]int, len(frames))
	for i := range busiest {
		busiest[i] = i
	}
	sort.SliceStable(busiest, func(a, b int) bool {
		return len(frames[busiest[a]].Objects) > len(frames[busiest[b]].Objects)
	})
	for _, i := range busiest[:min(max(topN, 0), len(busiest))] {
		if i < lead {
			continue
		}
		s.SampleFrames = append(s.SampleFrames, sample(frames[i]))
	}
	return s
}

func sample(f results.FrameRecord) SampleFrame {
	seen := make(map[string]struct{})
	classes := []string{}
	for _, o := range f.Objects {
		if _, ok := seen[o.ClassName]; ok {
			continue
		}
		seen[o.ClassName] = struct{}{}
		classes = append(classes, o.ClassName)
	}
	sort.Strings(classes)
	return SampleFrame{
		FrameIndex:  f.FrameIndex,
		Timestamp:   f.Timestamp,
		ObjectCount: len(f.Objects),
		Classes:     classes,
	}
}
