package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in       string
		expected ProviderBackend
		wantErr  bool
	}{
		{"", CPUExecutionProvider, false},
		{"CUDA", CUDAExecutionProvider, false},
		{" coreml ", CoreMLExecutionProvider, false},
		{"openvino", OpenVINOExecutionProvider, false},
		{"tpu", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			b, err := ParseBackend(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, b)
		})
	}
}

func TestGetSharedLibPath(t *testing.T) {
	assert.Equal(t, "/opt/ort.so", GetSharedLibPath("/opt/ort.so"))

	t.Setenv(SharedLibEnv, "/env/ort.so")
	assert.Equal(t, "/env/ort.so", GetSharedLibPath(""))
}
