package video

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-insights/common"
)

// fakeCapture serves n blank frames with fixed properties.
type fakeCapture struct {
	fps    float64
	frames int
	read   int
	opened bool
}

func (f *fakeCapture) Read(m *gocv.Mat) bool {
	if f.read >= f.frames {
		return false
	}
	if m.Empty() {
		m.Close()
		*m = gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	}
	f.read++
	return true
}

func (f *fakeCapture) Get(prop gocv.VideoCaptureProperties) float64 {
	switch prop {
	case gocv.VideoCaptureFPS:
		return f.fps
	case gocv.VideoCaptureFrameCount:
		return float64(f.frames)
	case gocv.VideoCaptureFrameWidth, gocv.VideoCaptureFrameHeight:
		return 8
	}
	return 0
}

func (f *fakeCapture) IsOpened() bool { return f.opened }
func (f *fakeCapture) Close() error   { return nil }

type memorySink struct {
	indices []int
	fail    bool
}

func (s *memorySink) Write(index int, _ gocv.Mat) (string, error) {
	if s.fail {
		return "", fmt.Errorf("disk full")
	}
	s.indices = append(s.indices, index)
	return fmt.Sprintf("mem://%d", index), nil
}

func extractor(opts Options, capture *fakeCapture) *Extractor {
	return NewExtractor(opts, zerolog.Nop()).WithOpener(func(string) (Capture, error) {
		return capture, nil
	})
}

func TestFrameInterval(t *testing.T) {
	tests := []struct {
		native, target float64
		expected       int
	}{
		{30, 2, 15},
		{29.97, 2, 15},
		{25, 2, 13},
		{24, 30, 1},
		{30, 0, 1},
		{0, 2, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%v", tt.native, tt.target), func(t *testing.T) {
			assert.Equal(t, tt.expected, FrameInterval(tt.native, tt.target))
		})
	}
}

func TestExtract_SamplesContiguously(t *testing.T) {
	sink := &memorySink{}
	refs, meta, err := extractor(Options{TargetFPS: 2}, &fakeCapture{fps: 30, frames: 95, opened: true}).
		Extract(context.Background(), "clip.mp4", sink)
	require.NoError(t, err)

	// Native frames 0, 15, 30, 45, 60, 75, 90.
	require.Len(t, refs, 7)
	for i, ref := range refs {
		assert.Equal(t, i, ref.Index)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, sink.indices)
	assert.Equal(t, "mem://6", refs[6].Path)

	assert.Equal(t, 30.0, meta.NativeFPS)
	assert.Equal(t, 95, meta.TotalFrames)
	assert.Equal(t, 7, meta.ExtractedFrames)
	assert.Equal(t, 2.0, meta.ExtractionFPS)
	assert.InDelta(t, 95.0/30.0, meta.DurationSeconds, 1e-9)
	assert.Equal(t, 8, meta.Width)
}

func TestExtract_MaxFrames(t *testing.T) {
	refs, meta, err := extractor(Options{TargetFPS: 30, MaxFrames: 3}, &fakeCapture{fps: 30, frames: 50, opened: true}).
		Extract(context.Background(), "clip.mp4", &memorySink{})
	require.NoError(t, err)
	assert.Len(t, refs, 3)
	assert.Equal(t, 3, meta.ExtractedFrames)
}

func TestExtract_OpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		capture *fakeCapture
	}{
		{"not opened", &fakeCapture{fps: 30, frames: 10}},
		{"no frames", &fakeCapture{fps: 30, frames: 0, opened: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := extractor(Options{TargetFPS: 2}, tt.capture).
				Extract(context.Background(), "broken.mp4", &memorySink{})
			assert.True(t, errors.Is(err, ErrVideoOpen))
		})
	}

	_, err := NewExtractor(Options{}, zerolog.Nop()).WithOpener(func(string) (Capture, error) {
		return nil, fmt.Errorf("codec")
	}).Probe("x.mp4")
	assert.True(t, errors.Is(err, ErrVideoOpen))
}

func TestExtract_SinkFailure(t *testing.T) {
	_, _, err := extractor(Options{TargetFPS: 2}, &fakeCapture{fps: 30, frames: 10, opened: true}).
		Extract(context.Background(), "clip.mp4", &memorySink{fail: true})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrVideoOpen))
}

func TestLabel(t *testing.T) {
	d := common.NewDetection("car", 0.876, common.Box(0, 0, 1, 1))
	assert.Equal(t, "car 0.88", Label(d))
	d.TrackID = 3
	assert.Equal(t, "#3 car 0.88", Label(d))
}
