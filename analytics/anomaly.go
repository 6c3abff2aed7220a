// Package analytics derives anomalies and activity intervals from a
// segmentation result. Everything here is a pure function of its input.
package analytics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/nvr-ai/go-insights/results"
)

const (
	// SpikeSigmas is how many standard deviations above the mean a frame's
	// object count must be to count as a spike.
	SpikeSigmas = 2.0
	// SpikeFloor is the minimum object count for a spike.
	SpikeFloor = 3
	// SpeedSigmas is the speed threshold in standard deviations.
	SpeedSigmas = 2.5
	// SpeedFloor is the minimum average speed, in pixels per frame, to flag.
	SpeedFloor = 10.0
	// MinTrackPoints is the shortest track considered for speed anomalies.
	MinTrackPoints = 5
	// SpeedSeverity is the fixed severity of a speed anomaly.
	SpeedSeverity = 0.8
)

// Anomaly is a frame flagged as unusual.
type Anomaly struct {
	FrameIndex  int     `json:"frame_index"`
	Timestamp   float64 `json:"timestamp"`
	Description string  `json:"description"`
	Severity    float64 `json:"severity"`
}

// DetectAnomalies runs the count-spike pass followed by the speed pass.
// Count spikes come first, in frame order, then speed anomalies in ascending
// track ID order.
func DetectAnomalies(result *results.SegmentationResult) []Anomaly {
	anomalies := []Anomaly{}
	if result == nil || len(result.Frames) == 0 {
		return anomalies
	}
	anomalies = append(anomalies, countSpikes(result)...)
	anomalies = append(anomalies, speedAnomalies(result.Frames)...)
	return anomalies
}

func countSpikes(result *results.SegmentationResult) []Anomaly {
	frames := result.Frames
	counts := result.Counts()
	mean, std := stat.PopMeanStdDev(counts, nil)
	threshold := mean + SpikeSigmas*std

	var out []Anomaly
	for i, c := range counts {
		if c <= threshold || c <= SpikeFloor {
			continue
		}
		severity := (c - mean) / (3*std + 0.1)
		out = append(out, Anomaly{
			FrameIndex:  frames[i].FrameIndex,
			Timestamp:   frames[i].Timestamp,
			Description: fmt.Sprintf("Unusual spike in object count: %d objects (Avg: %.1f)", int(c), mean),
			Severity:    round2(clamp01(severity)),
		})
	}
	return out
}

func speedAnomalies(frames []results.FrameRecord) []Anomaly {
	type trackSpeed struct {
		track results.Track
		speed float64
	}

	var qualifying []trackSpeed
	for _, tr := range results.Tracks(frames) {
		if len(tr.Points) < MinTrackPoints {
			continue
		}
		qualifying = append(qualifying, trackSpeed{track: tr, speed: AverageSpeed(tr)})
	}
	if len(qualifying) == 0 {
		return nil
	}

	speeds := make([]float64, len(qualifying))
	for i, q := range qualifying {
		speeds[i] = q.speed
	}
	mean, std := stat.PopMeanStdDev(speeds, nil)
	threshold := mean + SpeedSigmas*std

	timestamps := make(map[int]float64, len(frames))
	for _, f := range frames {
		timestamps[f.FrameIndex] = f.Timestamp
	}

	var out []Anomaly
	for _, q := range qualifying {
		if q.speed <= threshold || q.speed <= SpeedFloor {
			continue
		}
		first := q.track.Points[0].FrameIndex
		out = append(out, Anomaly{
			FrameIndex:  first,
			Timestamp:   timestamps[first],
			Description: fmt.Sprintf("High speed object detected (ID: %d, Speed: %.1f)", q.track.ID, q.speed),
			Severity:    SpeedSeverity,
		})
	}
	return out
}

// AverageSpeed is the track's path length divided by its step count.
func AverageSpeed(tr results.Track) float64 {
	if len(tr.Points) < 2 {
		return 0
	}
	dist := 0.0
	for i := 1; i < len(tr.Points); i++ {
		dist += math.Hypot(tr.Points[i].X-tr.Points[i-1].X, tr.Points[i].Y-tr.Points[i-1].Y)
	}
	return dist / float64(len(tr.Points)-1)
}

// SortByFrame orders anomalies by frame index for presentation. Ties keep
// their detection order.
func SortByFrame(anomalies []Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].FrameIndex < anomalies[j].FrameIndex
	})
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
