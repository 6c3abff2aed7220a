// Package providers - ONNX Runtime execution provider selection.
package providers

import (
	"fmt"
	"runtime"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

const (
	// CPUExecutionProvider runs on the default CPU kernels.
	CPUExecutionProvider ProviderBackend = "cpu"
	// CUDAExecutionProvider runs on NVIDIA GPUs.
	CUDAExecutionProvider ProviderBackend = "cuda"
	// CoreMLExecutionProvider runs on Apple Neural Engine / GPU.
	CoreMLExecutionProvider ProviderBackend = "coreml"
	// OpenVINOExecutionProvider runs on Intel accelerators.
	OpenVINOExecutionProvider ProviderBackend = "openvino"
)

// ParseBackend maps a configuration string to a ProviderBackend.
//
// Arguments:
//   - s: The backend name, case-insensitive. Empty means cpu.
//
// Returns:
//   - ProviderBackend: The backend.
//   - error: If the name is not a supported backend.
func ParseBackend(s string) (ProviderBackend, error) {
	switch b := ProviderBackend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return CPUExecutionProvider, nil
	case CPUExecutionProvider, CUDAExecutionProvider, CoreMLExecutionProvider, OpenVINOExecutionProvider:
		return b, nil
	default:
		return "", fmt.Errorf("unsupported execution provider: %q", s)
	}
}

// Config holds the session settings shared by every model in the process.
type Config struct {
	Backend           ProviderBackend   `json:"backend"              yaml:"backend"`
	IntraOpNumThreads int               `json:"intra_op_num_threads" yaml:"intra_op_num_threads"`
	InterOpNumThreads int               `json:"inter_op_num_threads" yaml:"inter_op_num_threads"`
	Options           map[string]string `json:"options"              yaml:"options"`
}

// DefaultConfig returns a CPU configuration sized to the host.
func DefaultConfig() Config {
	return Config{
		Backend:           CPUExecutionProvider,
		IntraOpNumThreads: max(1, runtime.NumCPU()/2),
		InterOpNumThreads: 1,
	}
}

// SessionOptions builds ORT session options for the configured backend.
//
// The caller owns the returned options and must Destroy them once the session
// has been created.
//
// Arguments:
//   - config: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: The session options.
//   - error: If the options cannot be created or the provider cannot be enabled.
func SessionOptions(config Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)
	if config.IntraOpNumThreads > 0 {
		options.SetIntraOpNumThreads(config.IntraOpNumThreads)
	}
	if config.InterOpNumThreads > 0 {
		options.SetInterOpNumThreads(config.InterOpNumThreads)
	}

	if err := appendProvider(options, config); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("failed to configure %s provider: %w", config.Backend, err)
	}
	return options, nil
}

func appendProvider(options *ort.SessionOptions, config Config) error {
	switch config.Backend {
	case CPUExecutionProvider, "":
		return nil
	case CUDAExecutionProvider:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		opts := map[string]string{"device_id": "0"}
		for k, v := range config.Options {
			opts[k] = v
		}
		if err := cuda.Update(opts); err != nil {
			return err
		}
		return options.AppendExecutionProviderCUDA(cuda)
	case CoreMLExecutionProvider:
		return options.AppendExecutionProviderCoreML(0)
	case OpenVINOExecutionProvider:
		opts := map[string]string{
			"device_type": "CPU",
			"precision":   "FP32",
		}
		for k, v := range config.Options {
			opts[k] = v
		}
		return options.AppendExecutionProviderOpenVINO(opts)
	default:
		return fmt.Errorf("unsupported execution provider: %s", config.Backend)
	}
}
