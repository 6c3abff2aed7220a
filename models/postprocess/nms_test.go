package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nvr-ai/go-insights/common"
)

func TestApplyGreedyNMS(t *testing.T) {
	person := func(conf float32, x float32) common.Detection {
		return common.NewDetection("person", conf, common.Box(x, 0, x+100, 100))
	}
	car := common.NewDetection("car", 0.85, common.Box(5, 0, 105, 100))

	tests := []struct {
		name     string
		input    []common.Detection
		config   *NMSConfig
		expected []common.Detection
	}{
		{
			name:     "empty",
			input:    nil,
			config:   DefaultNMSConfig(),
			expected: nil,
		},
		{
			name:     "overlapping same class suppressed",
			input:    []common.Detection{person(0.9, 0), person(0.8, 5), person(0.7, 300)},
			config:   DefaultNMSConfig(),
			expected: []common.Detection{person(0.9, 0), person(0.7, 300)},
		},
		{
			name:     "class aware keeps other label",
			input:    []common.Detection{person(0.9, 0), car},
			config:   DefaultNMSConfig(),
			expected: []common.Detection{person(0.9, 0), car},
		},
		{
			name:     "class agnostic suppresses other label",
			input:    []common.Detection{person(0.9, 0), car},
			config:   &NMSConfig{IoUThreshold: 0.5},
			expected: []common.Detection{person(0.9, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ApplyGreedyNMS(tt.input, tt.config))
		})
	}
}

func TestSortByConfidence_Stable(t *testing.T) {
	dets := []common.Detection{
		common.NewDetection("a", 0.5, common.Box(0, 0, 1, 1)),
		common.NewDetection("b", 0.9, common.Box(0, 0, 1, 1)),
		common.NewDetection("c", 0.5, common.Box(0, 0, 1, 1)),
	}
	SortByConfidence(dets)

	assert.Equal(t, []string{"b", "a", "c"}, []string{dets[0].Label, dets[1].Label, dets[2].Label})
}
