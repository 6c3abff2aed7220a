// Package detectors - YOLOv8 object detection over ONNX Runtime.
package detectors

import (
	"github.com/nvr-ai/go-insights/inference"
	"github.com/nvr-ai/go-insights/inference/providers"
)

// Config represents the configuration for the ONNX detector.
type Config struct {
	// ModelPath is the YOLOv8 ONNX export.
	ModelPath string `json:"model_path" yaml:"model_path"`

	// SharedLibPath is the onnxruntime library. Empty uses the platform default.
	SharedLibPath string `json:"shared_lib_path" yaml:"shared_lib_path"`

	// Provider is the execution provider configuration.
	Provider providers.Config `json:"provider" yaml:"provider"`

	// InputSize is the square model input side.
	InputSize int `json:"input_size" yaml:"input_size"`

	// Anchors is the number of candidate boxes the export emits (8400 at 640).
	Anchors int `json:"anchors" yaml:"anchors"`

	// Classes are the labels in model output order.
	Classes []string `json:"classes" yaml:"classes"`

	// ConfidenceThreshold filters detections below this confidence level.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// NMSThreshold controls Non-Maximum Suppression IoU threshold.
	NMSThreshold float32 `json:"nms_threshold" yaml:"nms_threshold"`

	// RelevantClasses lists object classes to keep (empty = all classes).
	RelevantClasses []string `json:"relevant_classes" yaml:"relevant_classes"`
}

// DefaultConfig returns the configuration for a stock yolov8n export.
//
// Returns:
//   - Config: The default configuration.
//
// @example
// config := DefaultConfig()
// config.ModelPath = "path/to/model.onnx"
// detector := NewONNXDetector(config, logger)
func DefaultConfig() Config {
	return Config{
		ModelPath:           "models/yolov8n.onnx",
		Provider:            providers.DefaultConfig(),
		InputSize:           640,
		Anchors:             8400,
		Classes:             inference.YOLOClasses,
		ConfidenceThreshold: 0.25,
		NMSThreshold:        0.7,
		RelevantClasses:     []string{},
	}
}
