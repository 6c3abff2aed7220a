// Package project tracks uploaded videos through segmentation, analysis and
// export, and schedules segmentation runs in the background.
package project

import (
	"time"

	"github.com/nvr-ai/go-insights/analytics"
	"github.com/nvr-ai/go-insights/insights"
)

// Status is a lifecycle state.
type Status string

// Lifecycle states.
const (
	StatusUploaded   Status = "uploaded"
	StatusSegmenting Status = "segmenting"
	StatusSegmented  Status = "segmented"
	StatusAnalyzing  Status = "analyzing"
	StatusAnalyzed   Status = "analyzed"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusUploaded:   {StatusSegmenting},
	StatusSegmenting: {StatusSegmented, StatusFailed},
	StatusSegmented:  {StatusAnalyzing},
	StatusAnalyzing:  {StatusAnalyzed, StatusSegmented},
	StatusAnalyzed:   {StatusAnalyzing, StatusCompleted},
	StatusCompleted:  {StatusCompleted},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InProgress reports whether a background operation owns the project.
func (s Status) InProgress() bool {
	return s == StatusSegmenting || s == StatusAnalyzing
}

// Analysis is what the analysis stage stores on a project.
type Analysis struct {
	Type       string               `json:"analysis_type"`
	Model      string               `json:"model,omitempty"`
	Anomalies  []analytics.Anomaly  `json:"anomalies"`
	Activities []analytics.Activity `json:"activities"`
	Narrative  *insights.Analysis   `json:"narrative,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Project is one uploaded video and everything derived from it.
type Project struct {
	ID            string    `json:"project_id"`
	VideoFilename string    `json:"video_filename"`
	VideoPath     string    `json:"video_path"`
	FileSize      int64     `json:"file_size"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Progress      int    `json:"progress"`
	StatusMessage string `json:"status_message"`

	TotalFrames         int     `json:"total_frames,omitempty"`
	TotalObjects        int     `json:"total_objects,omitempty"`
	ArtifactPath        string  `json:"segmentation_json_path,omitempty"`
	SegmentationSeconds float64 `json:"segmentation_time,omitempty"`
	AnnotatedVideoPath  string  `json:"annotated_video_path,omitempty"`

	Analysis *Analysis `json:"analysis,omitempty"`
}

// Clone returns a copy that shares nothing mutable with p.
func (p *Project) Clone() *Project {
	c := *p
	if p.Analysis != nil {
		a := *p.Analysis
		c.Analysis = &a
	}
	return &c
}
