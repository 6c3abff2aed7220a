package results

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNonContiguous is returned when a frame does not follow the previous one.
	ErrNonContiguous = errors.New("frame index is not contiguous")
	// ErrClosed is returned when the aggregator was already committed or aborted.
	ErrClosed = errors.New("aggregator is closed")
)

// Aggregator collects frame records in order and commits them as a single
// artifact.
//
// Stats are maintained incrementally so they can be read while frames are
// still being added. Nothing touches the filesystem until Commit.
type Aggregator struct {
	mu      sync.RWMutex
	frames  []FrameRecord
	total   int
	classes map[string]int
	ids     map[int]struct{}
	closed  bool
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		classes: make(map[string]int),
		ids:     make(map[int]struct{}),
	}
}

// Add appends the next frame. Its index must equal the number of frames
// already added.
func (a *Aggregator) Add(frame FrameRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if frame.FrameIndex != len(a.frames) {
		return errors.Wrapf(ErrNonContiguous, "got %d, want %d", frame.FrameIndex, len(a.frames))
	}
	if frame.Objects == nil {
		frame.Objects = []Object{}
	}

	a.frames = append(a.frames, frame)
	a.total += len(frame.Objects)
	for _, o := range frame.Objects {
		a.classes[o.ClassName]++
		if o.Tracked() {
			a.ids[o.ID] = struct{}{}
		}
	}
	return nil
}

// Stats returns a snapshot of the running statistics. ProcessingTimeSeconds
// is only filled in by Commit.
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.statsLocked()
}

func (a *Aggregator) statsLocked() Stats {
	perClass := make(map[string]int, len(a.classes))
	for k, v := range a.classes {
		perClass[k] = v
	}
	s := Stats{
		TotalFrames:     len(a.frames),
		TotalObjects:    a.total,
		UniqueObjects:   len(a.ids),
		ObjectsPerClass: perClass,
	}
	if len(a.frames) > 0 {
		s.AvgObjectsPerFrame = float64(a.total) / float64(len(a.frames))
	}
	return s
}

// Commit finalises the result and writes it to path atomically.
//
// Arguments:
//   - path: The artifact destination.
//   - meta: The video metadata from extraction.
//   - elapsed: Wall-clock time of the run.
//
// Returns:
//   - *SegmentationResult: The committed result.
//   - error: If the aggregator is closed or the write fails. On error the
//     destination is left untouched.
func (a *Aggregator) Commit(path string, meta VideoMetadata, elapsed time.Duration) (*SegmentationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}

	stats := a.statsLocked()
	stats.ProcessingTimeSeconds = elapsed.Seconds()

	frames := a.frames
	if frames == nil {
		frames = []FrameRecord{}
	}
	result := &SegmentationResult{
		VideoMetadata: meta,
		Frames:        frames,
		Stats:         stats,
	}
	if err := Save(path, result); err != nil {
		return nil, err
	}
	a.closed = true
	return result, nil
}

// Abort discards everything collected. Later Add and Commit calls fail.
func (a *Aggregator) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.frames = nil
}

// Save writes result to path via a temp file and rename so readers never see
// a partial artifact.
func Save(path string, result *SegmentationResult) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating artifact directory")
	}

	tmp, err := os.CreateTemp(dir, ".segmentation-*.json")
	if err != nil {
		return errors.Wrap(err, "creating temp artifact")
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		tmp.Close()
		return errors.Wrap(err, "encoding artifact")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "syncing artifact")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing artifact")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "committing artifact")
	}
	return nil
}

// Load reads an artifact written by Save.
func Load(path string) (*SegmentationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading artifact %s", path)
	}
	var result SegmentationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrapf(err, "decoding artifact %s", path)
	}
	return &result, nil
}
