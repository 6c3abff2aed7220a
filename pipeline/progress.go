// Package pipeline runs the per-frame detect, track and segment loop over an
// extracted video and commits the segmentation artifact.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/nvr-ai/go-insights/results"
)

// Snapshot is one published progress state.
type Snapshot struct {
	Percent     int            `json:"percent"`
	Message     string         `json:"message"`
	Frame       int            `json:"frame"`
	TotalFrames int            `json:"total_frames"`
	Stats       *results.Stats `json:"stats,omitempty"`
	Done        bool           `json:"done"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Progress is a single-writer, many-reader progress value. Only the pipeline
// publishes; anyone may Load.
type Progress struct {
	v atomic.Pointer[Snapshot]
	// observe, when set, sees every published snapshot in order.
	observe func(Snapshot)
}

// NewProgress returns a progress value at 0%.
func NewProgress() *Progress {
	p := &Progress{}
	p.v.Store(&Snapshot{Message: "Queued", UpdatedAt: time.Now()})
	return p
}

// Load returns the latest snapshot.
func (p *Progress) Load() Snapshot {
	return *p.v.Load()
}

func (p *Progress) publish(s Snapshot) {
	s.UpdatedAt = time.Now()
	p.v.Store(&s)
	if p.observe != nil {
		p.observe(s)
	}
}
