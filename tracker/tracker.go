// Package tracker assigns persistent identities to detections across frames.
package tracker

import (
	"sort"

	"github.com/nvr-ai/go-insights/common"
)

// Tracker links per-frame detections into tracks.
//
// Update is called once per frame, in frame order, and returns the detections
// in the same order with TrackID set. A Tracker holds per-run state and must
// not be shared between runs.
type Tracker interface {
	Update(detections []common.Detection) []common.Detection
	Active() int
}

// Config controls association.
type Config struct {
	// Enabled turns tracking on. When false every detection is Untracked.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// MatchThreshold is the minimum IoU for a detection to continue a track.
	MatchThreshold float32 `json:"match_threshold" yaml:"match_threshold"`
	// MaxMissedFrames is how many consecutive frames a track may go unmatched
	// before it is retired.
	MaxMissedFrames int `json:"max_missed_frames" yaml:"max_missed_frames"`
	// ClassAware restricts matches to detections with the track's label.
	ClassAware bool `json:"class_aware" yaml:"class_aware"`
}

// DefaultConfig returns the default association settings.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MatchThreshold:  0.3,
		MaxMissedFrames: 30,
		ClassAware:      true,
	}
}

// New returns a fresh tracker for one run.
func New(config Config) Tracker {
	if !config.Enabled {
		return Disabled{}
	}
	return NewIoUTracker(config)
}

// Disabled marks every detection as untracked.
type Disabled struct{}

// Update implements Tracker.
func (Disabled) Update(detections []common.Detection) []common.Detection {
	out := make([]common.Detection, len(detections))
	for i, d := range detections {
		d.TrackID = common.Untracked
		out[i] = d
	}
	return out
}

// Active implements Tracker.
func (Disabled) Active() int { return 0 }

type track struct {
	id     int
	label  string
	box    common.BoundingBox
	prev   common.BoundingBox
	hits   int
	missed int
}

// predicted extrapolates the box assuming constant velocity since the last
// two observations, accounting for frames the track has been missing.
func (t *track) predicted() common.BoundingBox {
	if t.hits < 2 {
		return t.box
	}
	cx, cy := t.box.Center()
	px, py := t.prev.Center()
	steps := float32(t.missed + 1)
	return t.box.Translate((cx-px)*steps, (cy-py)*steps)
}

// score is the better of the IoU against the last and the predicted box.
func (t *track) score(b common.BoundingBox) float32 {
	return max(t.box.IoU(b), t.predicted().IoU(b))
}

// IoUTracker is a greedy IoU tracker with constant-velocity prediction.
type IoUTracker struct {
	config Config
	tracks []*track
	nextID int
}

// NewIoUTracker creates a tracker whose first identity is 1.
func NewIoUTracker(config Config) *IoUTracker {
	return &IoUTracker{config: config, nextID: 1}
}

type candidate struct {
	track, det int
	iou        float32
}

// Update matches detections to live tracks in descending IoU order, each
// track and each detection used at most once. Unmatched detections start new
// tracks; tracks unmatched for more than MaxMissedFrames are retired and their
// IDs are never handed out again.
func (t *IoUTracker) Update(detections []common.Detection) []common.Detection {
	out := make([]common.Detection, len(detections))
	copy(out, detections)

	var candidates []candidate
	for ti, tr := range t.tracks {
		for di, d := range out {
			if t.config.ClassAware && tr.label != d.Label {
				continue
			}
			if iou := tr.score(d.Box); iou >= t.config.MatchThreshold && iou > 0 {
				candidates = append(candidates, candidate{track: ti, det: di, iou: iou})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].iou > candidates[j].iou
	})

	trackUsed := make([]bool, len(t.tracks))
	detUsed := make([]bool, len(out))
	for _, c := range candidates {
		if trackUsed[c.track] || detUsed[c.det] {
			continue
		}
		trackUsed[c.track] = true
		detUsed[c.det] = true

		tr := t.tracks[c.track]
		tr.prev = tr.box
		tr.box = out[c.det].Box
		tr.hits++
		tr.missed = 0
		out[c.det].TrackID = tr.id
	}

	live := t.tracks[:0]
	for i, tr := range t.tracks {
		if !trackUsed[i] {
			tr.missed++
			if tr.missed > t.config.MaxMissedFrames {
				continue
			}
		}
		live = append(live, tr)
	}
	t.tracks = live

	for di := range out {
		if detUsed[di] {
			continue
		}
		tr := &track{
			id:    t.nextID,
			label: out[di].Label,
			box:   out[di].Box,
			prev:  out[di].Box,
			hits:  1,
		}
		t.nextID++
		t.tracks = append(t.tracks, tr)
		out[di].TrackID = tr.id
	}

	return out
}

// Active returns the number of live tracks.
func (t *IoUTracker) Active() int {
	return len(t.tracks)
}
