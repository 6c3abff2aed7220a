package project

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nvr-ai/go-insights/analytics"
	"github.com/nvr-ai/go-insights/export"
	"github.com/nvr-ai/go-insights/insights"
	"github.com/nvr-ai/go-insights/pipeline"
	"github.com/nvr-ai/go-insights/results"
)

// Runner executes a segmentation run.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input, progress *pipeline.Progress) (*results.SegmentationResult, error)
}

// Prober checks that a video can be opened.
type Prober interface {
	Probe(path string) (results.VideoMetadata, error)
}

// Narrator produces a model-written analysis of a run summary.
type Narrator interface {
	Analyze(ctx context.Context, summary insights.Summary, analysisType, model string) (*insights.Analysis, error)
}

// Config controls uploads and where project data lives.
type Config struct {
	DataDir           string   `json:"data_dir"            yaml:"data_dir"`
	AllowedExtensions []string `json:"allowed_extensions"  yaml:"allowed_extensions"`
	MaxVideoSizeMB    int64    `json:"max_video_size_mb"   yaml:"max_video_size_mb"`
	AnnotateVideo     bool     `json:"annotate_video"      yaml:"annotate_video"`
}

// DefaultConfig returns the default upload limits.
func DefaultConfig() Config {
	return Config{
		DataDir:           "./data",
		AllowedExtensions: []string{".mp4", ".mov", ".avi", ".mkv"},
		MaxVideoSizeMB:    500,
		AnnotateVideo:     true,
	}
}

// AnnotatedVideoName is the file name of the annotated video in a frame directory.
const AnnotatedVideoName = "output_tracked.mp4"

// ProgressView is what callers polling a project see.
type ProgressView struct {
	ProjectID string         `json:"project_id"`
	Status    Status         `json:"status"`
	Percent   int            `json:"progress"`
	Message   string         `json:"status_message"`
	Stats     *results.Stats `json:"stats,omitempty"`
}

// AnalyzeOptions select what the analysis stage runs.
type AnalyzeOptions struct {
	Type    string
	Model   string
	Narrate bool
}

// Manager drives projects through their lifecycle.
type Manager struct {
	store    Store
	runner   Runner
	prober   Prober
	narrator Narrator
	config   Config
	logger   zerolog.Logger

	// mu serialises read-modify-write of project state.
	mu   sync.Mutex
	runs map[string]*pipeline.Progress
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewManager creates a manager.
func NewManager(store Store, runner Runner, prober Prober, config Config, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		runner: runner,
		prober: prober,
		config: config,
		logger: logger.With().Str("component", "projects").Logger(),
		runs:   make(map[string]*pipeline.Progress),
		now:    time.Now,
	}
}

// WithNarrator enables narrated analysis.
func (m *Manager) WithNarrator(n Narrator) *Manager {
	m.narrator = n
	return m
}

// FrameDir is where a project's frames, masks and artifact live.
func (m *Manager) FrameDir(id string) string {
	return filepath.Join(m.config.DataDir, "frames", id)
}

// Get returns a project.
func (m *Manager) Get(ctx context.Context, id string) (*Project, error) {
	return m.store.Get(ctx, id)
}

// List returns all projects, newest first.
func (m *Manager) List(ctx context.Context) ([]*Project, error) {
	return m.store.List(ctx)
}

// Create validates a video and copies it into the data directory as a new
// project in the uploaded state.
//
// Arguments:
//   - ctx: Context for the store.
//   - videoPath: The source video.
//
// Returns:
//   - *Project: The new project.
//   - error: ErrInvalidInput for rejected extensions or sizes.
func (m *Manager) Create(ctx context.Context, videoPath string) (*Project, error) {
	name := filepath.Base(videoPath)
	ext := strings.ToLower(filepath.Ext(name))
	if !m.allowedExtension(ext) {
		return nil, errors.Wrapf(ErrInvalidInput, "invalid file type %q, allowed: %s",
			ext, strings.Join(m.config.AllowedExtensions, ", "))
	}

	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidInput, "%v", err)
	}
	if info.IsDir() {
		return nil, errors.Wrapf(ErrInvalidInput, "%s is a directory", videoPath)
	}
	if limit := m.config.MaxVideoSizeMB * 1024 * 1024; limit > 0 && info.Size() > limit {
		return nil, errors.Wrapf(ErrInvalidInput, "file too large, maximum size: %dMB", m.config.MaxVideoSizeMB)
	}

	id := uuid.NewString()
	dir := filepath.Join(m.config.DataDir, "videos", id)
	dest := filepath.Join(dir, name)
	if err := copyFile(videoPath, dest); err != nil {
		os.RemoveAll(dir)
		return nil, errors.Wrap(err, "storing video")
	}

	now := m.now()
	p := &Project{
		ID:            id,
		VideoFilename: name,
		VideoPath:     dest,
		FileSize:      info.Size(),
		Status:        StatusUploaded,
		CreatedAt:     now,
		UpdatedAt:     now,
		StatusMessage: "Initialized",
	}
	if err := m.store.Create(ctx, p); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	m.logger.Info().Str("project_id", id).Str("video", name).Int64("size", info.Size()).Msg("project created")
	return p, nil
}

func (m *Manager) allowedExtension(ext string) bool {
	for _, allowed := range m.config.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// transition moves a project to next under m.mu, applying mutate first.
func (m *Manager) transition(ctx context.Context, id string, next Status, mutate func(p *Project) error) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransition(next) {
		return nil, errors.Wrapf(ErrInvalidState, "cannot move project from %s to %s", p.Status, next)
	}
	if mutate != nil {
		if err := mutate(p); err != nil {
			return nil, err
		}
	}
	p.Status = next
	p.UpdatedAt = m.now()
	if err := m.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// StartSegmentation validates the project's video, moves it to segmenting and
// runs the pipeline in the background. It returns as soon as the run is
// scheduled; poll Progress for the outcome.
//
// Arguments:
//   - ctx: Used for validation only. The run itself is not cancelled by it.
//   - id: The project.
//
// Returns:
//   - error: ErrNotFound, ErrInvalidState or video.ErrVideoOpen.
func (m *Manager) StartSegmentation(ctx context.Context, id string) error {
	p, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !p.Status.CanTransition(StatusSegmenting) {
		return errors.Wrapf(ErrInvalidState, "project status must be %s, current: %s", StatusUploaded, p.Status)
	}
	if _, err := m.prober.Probe(p.VideoPath); err != nil {
		return err
	}

	in := pipeline.Input{
		RunID:     id,
		VideoPath: p.VideoPath,
		FrameDir:  m.FrameDir(id),
	}
	if m.config.AnnotateVideo {
		in.AnnotatedPath = filepath.Join(in.FrameDir, AnnotatedVideoName)
	}

	if _, err := m.transition(ctx, id, StatusSegmenting, func(p *Project) error {
		p.Progress = 0
		p.StatusMessage = "Starting segmentation..."
		return nil
	}); err != nil {
		return err
	}

	progress := pipeline.NewProgress()
	m.mu.Lock()
	m.runs[id] = progress
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		runCtx := context.WithoutCancel(ctx)
		result, err := m.runner.Run(runCtx, in, progress)
		m.finishSegmentation(runCtx, id, in, result, err)
	}()

	m.logger.Info().Str("project_id", id).Msg("segmentation started")
	return nil
}

func (m *Manager) finishSegmentation(ctx context.Context, id string, in pipeline.Input, result *results.SegmentationResult, runErr error) {
	defer func() {
		m.mu.Lock()
		delete(m.runs, id)
		m.mu.Unlock()
	}()

	if runErr != nil {
		ev := m.logger.Error().Err(runErr).Str("project_id", id)
		var stageErr *pipeline.StageError
		if errors.As(runErr, &stageErr) {
			ev = ev.Str("stage", string(stageErr.Stage)).Int("frame", stageErr.FrameIndex)
		}
		ev.Msg("segmentation failed")

		if _, err := m.transition(ctx, id, StatusFailed, func(p *Project) error {
			p.StatusMessage = "Failed: " + runErr.Error()
			return nil
		}); err != nil {
			m.logger.Error().Err(err).Str("project_id", id).Msg("recording segmentation failure")
		}
		return
	}

	_, err := m.transition(ctx, id, StatusSegmented, func(p *Project) error {
		p.Progress = 100
		p.StatusMessage = "Segmentation complete"
		p.TotalFrames = result.Stats.TotalFrames
		p.TotalObjects = result.Stats.TotalObjects
		p.SegmentationSeconds = result.Stats.ProcessingTimeSeconds
		p.ArtifactPath = in.ArtifactPath()
		if in.AnnotatedPath != "" {
			if _, err := os.Stat(in.AnnotatedPath); err == nil {
				p.AnnotatedVideoPath = in.AnnotatedPath
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error().Err(err).Str("project_id", id).Msg("recording segmentation result")
	}
}

// Wait blocks until every background run has finished and been recorded.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Progress reports where a project is. While a run is in flight the view
// reflects the run's latest published snapshot.
func (m *Manager) Progress(ctx context.Context, id string) (ProgressView, error) {
	m.mu.Lock()
	live := m.runs[id]
	m.mu.Unlock()

	p, err := m.store.Get(ctx, id)
	if err != nil {
		return ProgressView{}, err
	}
	view := ProgressView{
		ProjectID: id,
		Status:    p.Status,
		Percent:   p.Progress,
		Message:   p.StatusMessage,
	}
	if live != nil && p.Status == StatusSegmenting {
		snap := live.Load()
		view.Percent = snap.Percent
		view.Message = snap.Message
		view.Stats = snap.Stats
	}
	return view, nil
}

// LoadResult reads a project's committed segmentation artifact.
func (m *Manager) LoadResult(ctx context.Context, id string) (*results.SegmentationResult, error) {
	p, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.loadArtifact(p)
}

func (m *Manager) loadArtifact(p *Project) (*results.SegmentationResult, error) {
	if p.ArtifactPath == "" {
		return nil, errors.Wrap(ErrMissingArtifact, p.ID)
	}
	if _, err := os.Stat(p.ArtifactPath); err != nil {
		return nil, errors.Wrapf(ErrMissingArtifact, "%s: %v", p.ID, err)
	}
	return results.Load(p.ArtifactPath)
}

// Analyze runs the anomaly and activity engines over a segmented project and,
// when requested, narrates the run. A failure moves the project back to
// segmented.
//
// Arguments:
//   - ctx: Bounds the narration call.
//   - id: The project.
//   - opts: Analysis type, model override and whether to narrate.
//
// Returns:
//   - *Analysis: The stored analysis.
//   - error: ErrInvalidState, ErrInvalidInput, ErrMissingArtifact or the
//     analysis failure.
func (m *Manager) Analyze(ctx context.Context, id string, opts AnalyzeOptions) (*Analysis, error) {
	if opts.Type == "" {
		opts.Type = insights.TypeGeneric
	}
	if !insights.ValidAnalysisType(opts.Type) {
		return nil, errors.Wrapf(ErrInvalidInput, "unknown analysis type %q", opts.Type)
	}
	if opts.Narrate && m.narrator == nil {
		return nil, errors.Wrap(ErrInvalidInput, "narration requested but no narrator is configured")
	}

	p, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransition(StatusAnalyzing) {
		return nil, errors.Wrapf(ErrInvalidState, "project must be segmented first, current: %s", p.Status)
	}
	if _, err := m.loadArtifact(p); err != nil {
		return nil, err
	}

	if _, err := m.transition(ctx, id, StatusAnalyzing, func(p *Project) error {
		p.StatusMessage = "Analyzing..."
		return nil
	}); err != nil {
		return nil, err
	}

	analysis, err := m.analyze(ctx, p, opts)
	if err != nil {
		m.logger.Error().Err(err).Str("project_id", id).Msg("analysis failed")
		if _, rerr := m.transition(context.WithoutCancel(ctx), id, StatusSegmented, func(p *Project) error {
			p.StatusMessage = "Analysis failed: " + err.Error()
			return nil
		}); rerr != nil {
			m.logger.Error().Err(rerr).Str("project_id", id).Msg("reverting failed analysis")
		}
		return nil, err
	}

	if _, err := m.transition(ctx, id, StatusAnalyzed, func(p *Project) error {
		p.Analysis = analysis
		p.StatusMessage = "Analysis completed successfully"
		return nil
	}); err != nil {
		return nil, err
	}
	m.logger.Info().
		Str("project_id", id).
		Int("anomalies", len(analysis.Anomalies)).
		Int("activities", len(analysis.Activities)).
		Bool("narrated", analysis.Narrative != nil).
		Msg("analysis complete")
	return analysis, nil
}

func (m *Manager) analyze(ctx context.Context, p *Project, opts AnalyzeOptions) (*Analysis, error) {
	result, err := m.loadArtifact(p)
	if err != nil {
		return nil, err
	}
	analysis := &Analysis{
		Type:       opts.Type,
		Anomalies:  analytics.DetectAnomalies(result),
		Activities: analytics.DetectActivities(result),
		CreatedAt:  m.now(),
	}
	if opts.Narrate {
		summary := insights.BuildSummary(result, insights.DefaultFirstFrames, insights.DefaultTopFrames)
		narrative, err := m.narrator.Analyze(ctx, summary, opts.Type, opts.Model)
		if err != nil {
			return nil, errors.Wrap(err, "narrating analysis")
		}
		analysis.Narrative = narrative
		analysis.Model = opts.Model
	}
	return analysis, nil
}

// Export writes a dataset archive of an analyzed project to dest and marks
// the project completed.
func (m *Manager) Export(ctx context.Context, id string, format export.Format, dest string) error {
	p, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !p.Status.CanTransition(StatusCompleted) {
		return errors.Wrapf(ErrInvalidState, "project must be analyzed first, current: %s", p.Status)
	}
	result, err := m.loadArtifact(p)
	if err != nil {
		return err
	}
	if err := export.WriteFile(result, m.FrameDir(id), format, dest); err != nil {
		return err
	}
	_, err = m.transition(ctx, id, StatusCompleted, func(p *Project) error {
		p.StatusMessage = fmt.Sprintf("Exported %s dataset", format)
		return nil
	})
	return err
}
