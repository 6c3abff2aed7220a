package insights

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-insights/results"
)

func frame(i int, classes ...string) results.FrameRecord {
	f := results.FrameRecord{FrameIndex: i, Timestamp: float64(i) / 2, Objects: []results.Object{}}
	for j, c := range classes {
		f.Objects = append(f.Objects, results.Object{ID: j + 1, ClassName: c})
	}
	return f
}

func TestBuildSummary(t *testing.T) {
	result := &results.SegmentationResult{
		Frames: []results.FrameRecord{
			frame(0, "person"),
			frame(1, "person", "car"),
			frame(2),
			frame(3, "car", "car", "car", "car"),
			frame(4, "dog"),
			frame(5, "car", "car", "car", "car", "car"),
			frame(6, "bus", "bus"),
			frame(7, "truck", "truck", "truck"),
		},
		Stats: results.Stats{TotalFrames: 8, TotalObjects: 19, ObjectsPerClass: map[string]int{"car": 10}},
	}

	s := BuildSummary(result, DefaultFirstFrames, DefaultTopFrames)

	var indices []int
	for _, f := range s.SampleFrames {
		indices = append(indices, f.FrameIndex)
	}
	// Top three are 5, 3 and 7; 3 is already in the leading five.
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 7}, indices)
	assert.Equal(t, []string{"car", "person"}, s.SampleFrames[1].Classes)
	assert.Equal(t, 2, s.SampleFrames[1].ObjectCount)
	assert.Empty(t, s.SampleFrames[2].Classes)
	assert.Equal(t, 19, s.TotalObjects)
}

func TestBuildSummary_ShortRun(t *testing.T) {
	s := BuildSummary(&results.SegmentationResult{Frames: []results.FrameRecord{frame(0, "person")}}, 5, 3)
	require.Len(t, s.SampleFrames, 1)
	assert.NotNil(t, s.ObjectsPerClass)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```\ntrailing", `{"a":1}`},
		{"padded", "  \n{\"a\":1}\n ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.in))
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(10))
}

func completion(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return body
}

func testClient(url string) *Client {
	config := DefaultConfig()
	config.BaseURL = url
	config.APIKey = "test-key"
	config.Retry = RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2}
	return NewClient(config, zerolog.Nop())
}

func TestClient_Analyze(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write(completion("```json\n{\"summary\":\"Two cars\",\"key_findings\":[\"busy\"]}\n```"))
	}))
	defer srv.Close()

	a, err := testClient(srv.URL).Analyze(context.Background(), Summary{TotalFrames: 4}, TypeTraffic, "")
	require.NoError(t, err)

	assert.Equal(t, "Two cars", a.Summary)
	assert.Equal(t, []string{"busy"}, a.KeyFindings)
	assert.Equal(t, []string{}, a.Anomalies)
	assert.Equal(t, []KPI{}, a.KPIs)
	assert.InDelta(t, 0.7, a.DatasetPlan.RecommendedSplit["train"], 1e-9)

	assert.Equal(t, DefaultConfig().Model, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "traffic scenario")
	assert.Contains(t, got.Messages[1].Content, "Total Frames: 4")
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write(completion(`{"summary":"ok"}`))
	}))
	defer srv.Close()

	a, err := testClient(srv.URL).Analyze(context.Background(), Summary{}, "", "custom/model")
	require.NoError(t, err)
	assert.Equal(t, "ok", a.Summary)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      []byte
		wantCalls int32
		check     func(t *testing.T, err error)
	}{
		{
			name: "bad request is not retried", status: http.StatusBadRequest, body: []byte("nope"), wantCalls: 1,
			check: func(t *testing.T, err error) {
				var ce *ClientError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, http.StatusBadRequest, ce.Code)
			},
		},
		{
			name: "rate limit exhausts retries", status: http.StatusTooManyRequests, body: []byte("slow down"), wantCalls: 4,
			check: func(t *testing.T, err error) {
				var ce *ClientError
				require.True(t, errors.As(err, &ce))
				assert.True(t, ce.IsRetryable())
			},
		},
		{
			name: "non-json content", status: http.StatusOK, body: completion("I think there are cars"), wantCalls: 1,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, ErrInvalidResponse))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write(tt.body)
			}))
			defer srv.Close()

			_, err := testClient(srv.URL).Analyze(context.Background(), Summary{}, TypeGeneric, "")
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestValidAnalysisType(t *testing.T) {
	assert.True(t, ValidAnalysisType(TypeRetail))
	assert.False(t, ValidAnalysisType("weather"))
}
