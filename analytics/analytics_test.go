package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-insights/common"
	"github.com/nvr-ai/go-insights/results"
)

const fps = 2.0

// series builds a result whose frame i holds counts[i] untracked objects.
func series(counts ...int) *results.SegmentationResult {
	frames := make([]results.FrameRecord, len(counts))
	for i, c := range counts {
		objs := make([]results.Object, c)
		for j := range objs {
			objs[j] = results.Object{ID: common.Untracked, ClassName: "person", BBox: [4]float64{0, 0, 10, 10}}
		}
		frames[i] = results.FrameRecord{FrameIndex: i, Timestamp: float64(i) / fps, Objects: objs}
	}
	return &results.SegmentationResult{Frames: frames}
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// moving adds a tracked object to frames [from, to) whose center advances by
// (vx, vy) per frame.
func moving(r *results.SegmentationResult, id, from, to int, x, y, vx, vy float64) {
	for i := from; i < to; i++ {
		cx, cy := x+vx*float64(i-from), y+vy*float64(i-from)
		r.Frames[i].Objects = append(r.Frames[i].Objects, results.Object{
			ID:        id,
			ClassName: "car",
			BBox:      [4]float64{cx - 10, cy - 10, cx + 10, cy + 10},
		})
	}
}

func TestDetectAnomalies_CountSpike(t *testing.T) {
	// mean 3.8, population std 5.4: 20 sits exactly at mean + 3 std.
	counts := append(repeat(2, 9), 20)
	counts[4], counts[9] = 20, 2
	r := series(counts...)

	anomalies := DetectAnomalies(r)
	require.Len(t, anomalies, 1)
	assert.Equal(t, 4, anomalies[0].FrameIndex)
	assert.Equal(t, 2.0, anomalies[0].Timestamp)
	assert.Equal(t, "Unusual spike in object count: 20 objects (Avg: 3.8)", anomalies[0].Description)
	assert.Equal(t, 0.99, anomalies[0].Severity)
}

func TestDetectAnomalies_FloorSuppressesSmallSpikes(t *testing.T) {
	// 3 is above mean + 2 std but not above the floor.
	assert.Empty(t, DetectAnomalies(series(append(repeat(0, 19), 3)...)))
}

func TestDetectAnomalies_ZeroDetections(t *testing.T) {
	assert.Empty(t, DetectAnomalies(series(repeat(0, 50)...)))
	assert.Empty(t, DetectAnomalies(&results.SegmentationResult{}))
	assert.Empty(t, DetectAnomalies(nil))
}

func TestDetectAnomalies_Speed(t *testing.T) {
	r := series(repeat(0, 20)...)
	for id := 1; id <= 9; id++ {
		moving(r, id, 0, 10, float64(id*30), 100, 1, 0)
	}
	moving(r, 10, 5, 15, 0, 400, 80, 0)

	anomalies := DetectAnomalies(r)
	require.Len(t, anomalies, 1)
	assert.Equal(t, 5, anomalies[0].FrameIndex)
	assert.Equal(t, 2.5, anomalies[0].Timestamp)
	assert.Equal(t, "High speed object detected (ID: 10, Speed: 80.0)", anomalies[0].Description)
	assert.Equal(t, SpeedSeverity, anomalies[0].Severity)
}

func TestDetectAnomalies_ShortAndUntrackedIgnored(t *testing.T) {
	r := series(repeat(0, 10)...)
	moving(r, 1, 0, 4, 0, 0, 200, 0)
	moving(r, common.Untracked, 0, 10, 0, 0, 200, 0)

	assert.Empty(t, DetectAnomalies(r))
}

func TestSortByFrame(t *testing.T) {
	a := []Anomaly{{FrameIndex: 9}, {FrameIndex: 2, Description: "a"}, {FrameIndex: 2, Description: "b"}}
	SortByFrame(a)
	assert.Equal(t, []int{2, 2, 9}, []int{a[0].FrameIndex, a[1].FrameIndex, a[2].FrameIndex})
	assert.Equal(t, "a", a[0].Description)
}

func TestDetectActivities_ConcreteCase(t *testing.T) {
	r := series(append(repeat(0, 30), repeat(8, 30)...)...)

	assert.Equal(t, []Activity{
		{StartFrame: 0, EndFrame: 29, Label: "Empty Scene", Confidence: 0.85},
		{StartFrame: 30, EndFrame: 59, Label: "Moderate Activity", Confidence: 0.85},
	}, DetectActivities(r))
}

func TestDetectActivities_AllEmpty(t *testing.T) {
	acts := DetectActivities(series(repeat(0, 75)...))
	assert.Equal(t, []Activity{{StartFrame: 0, EndFrame: 74, Label: LabelEmpty, Confidence: ActivityConfidence}}, acts)
	assert.Empty(t, DetectActivities(&results.SegmentationResult{}))
}

func TestDetectActivities_Movement(t *testing.T) {
	tests := []struct {
		name   string
		vx, vy float64
		label  string
	}{
		{"right", 5, 1, "Light Activity (Moving Right)"},
		{"left", -5, 1, "Light Activity (Moving Left)"},
		{"down", 1, 5, "Light Activity (Moving Down)"},
		{"up", 0, -5, "Light Activity (Moving Up)"},
		{"tie goes vertical", 5, 5, "Light Activity (Moving Down)"},
		{"stationary", 0.1, 0.1, "Light Activity (Stationary)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := series(repeat(0, 30)...)
			moving(r, 1, 0, 30, 500, 500, tt.vx, tt.vy)
			acts := DetectActivities(r)
			require.Len(t, acts, 1)
			assert.Equal(t, tt.label, acts[0].Label)
		})
	}
}

func TestDetectActivities_CoverageAndMerging(t *testing.T) {
	counts := append(append(repeat(3, 45), repeat(20, 40)...), repeat(3, 7)...)
	acts := DetectActivities(series(counts...))
	require.NotEmpty(t, acts)

	assert.Equal(t, 0, acts[0].StartFrame)
	assert.Equal(t, len(counts)-1, acts[len(acts)-1].EndFrame)
	for i := 1; i < len(acts); i++ {
		assert.Equal(t, acts[i-1].EndFrame+1, acts[i].StartFrame)
		assert.NotEqual(t, acts[i-1].Label, acts[i].Label)
	}
	for _, a := range acts {
		assert.GreaterOrEqual(t, a.EndFrame, a.StartFrame)
	}
}

func TestDensityLabel(t *testing.T) {
	assert.Equal(t, LabelEmpty, DensityLabel(0))
	assert.Equal(t, LabelLight, DensityLabel(0.1))
	assert.Equal(t, LabelLight, DensityLabel(5))
	assert.Equal(t, LabelModerate, DensityLabel(5.01))
	assert.Equal(t, LabelModerate, DensityLabel(15))
	assert.Equal(t, LabelHigh, DensityLabel(15.5))
}
