package project

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-insights/export"
	"github.com/nvr-ai/go-insights/insights"
	"github.com/nvr-ai/go-insights/pipeline"
	"github.com/nvr-ai/go-insights/results"
	"github.com/nvr-ai/go-insights/util"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusUploaded, StatusSegmenting, true},
		{StatusUploaded, StatusAnalyzing, false},
		{StatusSegmenting, StatusSegmented, true},
		{StatusSegmenting, StatusFailed, true},
		{StatusSegmented, StatusAnalyzing, true},
		{StatusSegmented, StatusCompleted, false},
		{StatusAnalyzing, StatusSegmented, true},
		{StatusAnalyzing, StatusAnalyzed, true},
		{StatusAnalyzed, StatusAnalyzing, true},
		{StatusAnalyzed, StatusCompleted, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusFailed, StatusSegmenting, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

// fakeRunner writes a small artifact, or fails at failFrame when set. It
// blocks on release when non-nil.
type fakeRunner struct {
	release   chan struct{}
	failFrame int
	inputs    []pipeline.Input
	mu        sync.Mutex
}

func (r *fakeRunner) Run(ctx context.Context, in pipeline.Input, _ *pipeline.Progress) (*results.SegmentationResult, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	r.mu.Unlock()
	if r.release != nil {
		<-r.release
	}
	if r.failFrame >= 0 {
		return nil, &pipeline.StageError{Stage: pipeline.StageDetect, FrameIndex: r.failFrame, Err: errors.New("boom")}
	}

	if err := os.MkdirAll(in.FrameDir, 0o755); err != nil {
		return nil, err
	}
	agg := results.NewAggregator()
	for i := 0; i < 40; i++ {
		objs := []results.Object{{ID: 1, ClassName: "person", BBox: [4]float64{float64(i), 0, float64(i) + 10, 10}}}
		if err := agg.Add(results.FrameRecord{FrameIndex: i, Timestamp: float64(i) / 2, Objects: objs}); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(in.FrameDir, util.FrameFileName(i)), []byte{0xff}, 0o644); err != nil {
			return nil, err
		}
	}
	meta := results.VideoMetadata{NativeFPS: 30, Width: 100, Height: 100, ExtractionFPS: 2, ExtractedFrames: 40}
	return agg.Commit(in.ArtifactPath(), meta, time.Second)
}

type fakeProber struct{ err error }

func (p fakeProber) Probe(string) (results.VideoMetadata, error) {
	return results.VideoMetadata{}, p.err
}

type fakeNarrator struct {
	err  error
	seen insights.Summary
}

func (n *fakeNarrator) Analyze(_ context.Context, s insights.Summary, _, _ string) (*insights.Analysis, error) {
	n.seen = s
	if n.err != nil {
		return nil, n.err
	}
	return &insights.Analysis{Summary: "one person walking"}, nil
}

func newTestManager(t *testing.T, store Store, runner Runner, prober Prober) (*Manager, string) {
	t.Helper()
	config := DefaultConfig()
	config.DataDir = t.TempDir()
	config.AnnotateVideo = false

	videoPath := filepath.Join(t.TempDir(), "clip.MP4")
	require.NoError(t, os.WriteFile(videoPath, []byte("not really a video"), 0o644))
	return NewManager(store, runner, prober, config, zerolog.Nop()), videoPath
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "projects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{"memory": NewMemoryStore(), "sqlite": sqlite}
}

func TestManager_Lifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			runner := &fakeRunner{release: make(chan struct{}), failFrame: -1}
			m, videoPath := newTestManager(t, store, runner, fakeProber{})
			narrator := &fakeNarrator{}
			m.WithNarrator(narrator)

			p, err := m.Create(ctx, videoPath)
			require.NoError(t, err)
			assert.Equal(t, StatusUploaded, p.Status)
			assert.FileExists(t, p.VideoPath)

			require.NoError(t, m.StartSegmentation(ctx, p.ID))

			view, err := m.Progress(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusSegmenting, view.Status)
			assert.ErrorIs(t, m.StartSegmentation(ctx, p.ID), ErrInvalidState)

			close(runner.release)
			m.Wait()

			view, err = m.Progress(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusSegmented, view.Status)
			assert.Equal(t, 100, view.Percent)

			got, err := m.Get(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, 40, got.TotalFrames)
			assert.Equal(t, filepath.Join(m.FrameDir(p.ID), results.ArtifactName), got.ArtifactPath)

			_, err = m.Analyze(ctx, p.ID, AnalyzeOptions{Type: "weather"})
			assert.ErrorIs(t, err, ErrInvalidInput)

			analysis, err := m.Analyze(ctx, p.ID, AnalyzeOptions{Type: insights.TypeSecurity, Narrate: true})
			require.NoError(t, err)
			assert.Equal(t, "one person walking", analysis.Narrative.Summary)
			assert.NotEmpty(t, analysis.Activities)
			assert.Equal(t, 40, narrator.seen.TotalFrames)

			got, err = m.Get(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusAnalyzed, got.Status)
			require.NotNil(t, got.Analysis)
			assert.Equal(t, insights.TypeSecurity, got.Analysis.Type)

			dest := filepath.Join(t.TempDir(), "dataset.zip")
			require.NoError(t, m.Export(ctx, p.ID, export.FormatYOLO, dest))
			assert.FileExists(t, dest)

			got, err = m.Get(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, got.Status)
		})
	}
}

func TestManager_SegmentationFailure(t *testing.T) {
	ctx := context.Background()
	m, videoPath := newTestManager(t, NewMemoryStore(), &fakeRunner{failFrame: 7}, fakeProber{})

	p, err := m.Create(ctx, videoPath)
	require.NoError(t, err)
	require.NoError(t, m.StartSegmentation(ctx, p.ID))
	m.Wait()

	got, err := m.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.StatusMessage, "frame 7")
	assert.Empty(t, got.ArtifactPath)

	_, err = m.Analyze(ctx, p.ID, AnalyzeOptions{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestManager_AnalysisFailureReverts(t *testing.T) {
	ctx := context.Background()
	m, videoPath := newTestManager(t, NewMemoryStore(), &fakeRunner{failFrame: -1}, fakeProber{})
	m.WithNarrator(&fakeNarrator{err: errors.New("rate limited")})

	p, err := m.Create(ctx, videoPath)
	require.NoError(t, err)
	require.NoError(t, m.StartSegmentation(ctx, p.ID))
	m.Wait()

	_, err = m.Analyze(ctx, p.ID, AnalyzeOptions{Narrate: true})
	require.Error(t, err)

	got, err := m.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSegmented, got.Status)
	assert.Nil(t, got.Analysis)
}

func TestManager_RejectsBadInput(t *testing.T) {
	ctx := context.Background()

	t.Run("extension", func(t *testing.T) {
		m, _ := newTestManager(t, NewMemoryStore(), &fakeRunner{failFrame: -1}, fakeProber{})
		txt := filepath.Join(t.TempDir(), "notes.txt")
		require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
		_, err := m.Create(ctx, txt)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("size", func(t *testing.T) {
		m, _ := newTestManager(t, NewMemoryStore(), &fakeRunner{failFrame: -1}, fakeProber{})
		m.config.MaxVideoSizeMB = 1
		big := filepath.Join(t.TempDir(), "big.mkv")
		require.NoError(t, os.WriteFile(big, []byte(strings.Repeat("x", 1024*1024+1)), 0o644))
		_, err := m.Create(ctx, big)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("unknown project", func(t *testing.T) {
		m, _ := newTestManager(t, NewMemoryStore(), &fakeRunner{failFrame: -1}, fakeProber{})
		assert.ErrorIs(t, m.StartSegmentation(ctx, "nope"), ErrNotFound)
		_, err := m.Progress(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unreadable video stays uploaded", func(t *testing.T) {
		errOpen := errors.New("video cannot be opened")
		m, videoPath := newTestManager(t, NewMemoryStore(), &fakeRunner{failFrame: -1},
			fakeProber{err: errors.Wrap(errOpen, "corrupt")})
		p, err := m.Create(ctx, videoPath)
		require.NoError(t, err)

		assert.ErrorIs(t, m.StartSegmentation(ctx, p.ID), errOpen)
		got, err := m.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusUploaded, got.Status)
	})

	t.Run("export before analysis", func(t *testing.T) {
		m, videoPath := newTestManager(t, NewMemoryStore(), &fakeRunner{failFrame: -1}, fakeProber{})
		p, err := m.Create(ctx, videoPath)
		require.NoError(t, err)
		err = m.Export(ctx, p.ID, export.FormatCOCO, filepath.Join(t.TempDir(), "out.zip"))
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().Truncate(time.Second)
	p := &Project{ID: "a", VideoFilename: "v.mp4", VideoPath: "/v.mp4", FileSize: 10, Status: StatusUploaded, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Create(ctx, p))
	assert.ErrorIs(t, store.Create(ctx, p), ErrExists)

	p.Status = StatusAnalyzed
	p.Analysis = &Analysis{Type: "generic", Narrative: &insights.Analysis{Summary: "s"}}
	require.NoError(t, store.Update(ctx, p))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusAnalyzed, got.Status)
	assert.True(t, now.Equal(got.CreatedAt))
	require.NotNil(t, got.Analysis)
	assert.Equal(t, "s", got.Analysis.Narrative.Summary)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, &Project{ID: "missing"}), ErrNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
