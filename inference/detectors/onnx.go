package detectors

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nvr-ai/go-insights/common"
	"github.com/nvr-ai/go-insights/inference"
	"github.com/nvr-ai/go-insights/inference/providers"
)

// ONNXDetector runs a YOLOv8 ONNX export.
//
// The model is loaded on first use. A single detector may be shared across
// runs; calls to Detect are serialised because the session's tensors are bound
// at creation time.
type ONNXDetector struct {
	config Config
	layout OutputLayout
	logger zerolog.Logger

	mu      sync.Mutex
	session *inference.Session
}

// NewONNXDetector creates a detector. No model is loaded until EnsureLoaded
// or Detect is called.
func NewONNXDetector(config Config, logger zerolog.Logger) *ONNXDetector {
	if len(config.Classes) == 0 {
		config.Classes = inference.YOLOClasses
	}
	return &ONNXDetector{
		config: config,
		layout: OutputLayout{
			InputSize: config.InputSize,
			Anchors:   config.Anchors,
			Classes:   config.Classes,
		},
		logger: logger.With().Str("component", "detector").Logger(),
	}
}

// EnsureLoaded loads the model if it has not been loaded yet. Concurrent
// first callers load it once.
func (d *ONNXDetector) EnsureLoaded() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureLoadedLocked()
}

func (d *ONNXDetector) ensureLoadedLocked() error {
	if d.session != nil {
		return nil
	}

	if err := inference.InitRuntime(providers.GetSharedLibPath(d.config.SharedLibPath)); err != nil {
		return err
	}

	size := int64(d.config.InputSize)
	session, err := inference.NewSession(inference.SessionSpec{
		ModelPath: d.config.ModelPath,
		Inputs:    []inference.TensorSpec{{Name: "images", Shape: []int64{1, 3, size, size}}},
		Outputs: []inference.TensorSpec{{
			Name:  "output0",
			Shape: []int64{1, int64(4 + len(d.config.Classes)), int64(d.config.Anchors)},
		}},
		Provider: d.config.Provider,
	})
	if err != nil {
		return fmt.Errorf("failed to load detector model: %w", err)
	}

	d.session = session
	d.logger.Info().
		Str("model", d.config.ModelPath).
		Str("provider", string(d.config.Provider.Backend)).
		Msg("detector model loaded")
	return nil
}

// Detect runs inference on a single frame.
//
// Arguments:
//   - ctx: Checked before inference starts.
//   - img: The frame.
//
// Returns:
//   - []common.Detection: Untracked detections, highest confidence first.
//   - error: If the model cannot be loaded or inference fails.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]common.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoadedLocked(); err != nil {
		return nil, err
	}

	if err := inference.PrepareInput(img, d.config.InputSize, d.session.Inputs[0].GetData()); err != nil {
		return nil, fmt.Errorf("failed to prepare input: %w", err)
	}
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}

	b := img.Bounds()
	return ProcessInferenceOutput(d.session.Outputs[0].GetData(), d.layout, b.Dx(), b.Dy(), d.config)
}

// Close releases the model session.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Close()
		d.session = nil
	}
	return nil
}
