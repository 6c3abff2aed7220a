package results

import "sort"

// TrackPoint is a bbox center observed at a frame.
type TrackPoint struct {
	FrameIndex int
	X, Y       float64
}

// Track is the ordered history of one identity.
type Track struct {
	ID     int
	Points []TrackPoint
}

// Tracks reconstructs tracks from frame records, ordered by ascending ID.
// Untracked objects are skipped.
func Tracks(frames []FrameRecord) []Track {
	byID := make(map[int][]TrackPoint)
	for _, f := range frames {
		for _, o := range f.Objects {
			if !o.Tracked() {
				continue
			}
			byID[o.ID] = append(byID[o.ID], TrackPoint{
				FrameIndex: f.FrameIndex,
				X:          (o.BBox[0] + o.BBox[2]) / 2,
				Y:          (o.BBox[1] + o.BBox[3]) / 2,
			})
		}
	}

	tracks := make([]Track, 0, len(byID))
	for id, pts := range byID {
		tracks = append(tracks, Track{ID: id, Points: pts})
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].ID < tracks[j].ID })
	return tracks
}
