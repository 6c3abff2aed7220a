// Package segment attaches per-object masks to detections.
//
// The strategy is picked once, when the Segmenter is built: a box-prompted
// ONNX mask model, OpenCV GrabCut seeded by the box, or no masks at all.
// Refine never fails a frame; a detection that cannot be refined is passed
// through unchanged.
package segment

import (
	"context"
	"image"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nvr-ai/go-insights/common"
	"github.com/nvr-ai/go-insights/inference/providers"
)

// Mode names a segmentation strategy.
type Mode string

const (
	// ModeNone leaves detections as bounding boxes only.
	ModeNone Mode = "none"
	// ModeGrabCut refines boxes with OpenCV GrabCut.
	ModeGrabCut Mode = "grabcut"
	// ModeONNX runs a box-prompted ONNX mask model.
	ModeONNX Mode = "onnx"
	// ModeAuto picks ModeONNX when the model and runtime are installed,
	// otherwise ModeNone.
	ModeAuto Mode = "auto"
)

// Segmenter refines detections with masks.
type Segmenter interface {
	Refine(ctx context.Context, frame image.Image, detections []common.Detection) []common.Detection
	Mode() Mode
	Close() error
}

// Config selects and tunes the strategy.
type Config struct {
	Mode              Mode             `json:"mode"               yaml:"mode"`
	ModelPath         string           `json:"model_path"         yaml:"model_path"`
	SharedLibPath     string           `json:"shared_lib_path"    yaml:"shared_lib_path"`
	Provider          providers.Config `json:"provider"           yaml:"provider"`
	InputSize         int              `json:"input_size"         yaml:"input_size"`
	MaskThreshold     float32          `json:"mask_threshold"     yaml:"mask_threshold"`
	GrabCutIterations int              `json:"grabcut_iterations" yaml:"grabcut_iterations"`
}

// DefaultConfig returns auto selection with the stock model location.
func DefaultConfig() Config {
	return Config{
		Mode:              ModeAuto,
		ModelPath:         "models/mask_decoder.onnx",
		Provider:          providers.DefaultConfig(),
		InputSize:         1024,
		MaskThreshold:     0,
		GrabCutIterations: 3,
	}
}

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeNone, ModeGrabCut, ModeONNX, ModeAuto:
		return m, nil
	default:
		return "", errors.Errorf("unknown segmentation mode %q", s)
	}
}

// New builds the Segmenter for config. Availability is checked here and
// nowhere else.
func New(config Config, logger zerolog.Logger) Segmenter {
	logger = logger.With().Str("component", "segmenter").Logger()

	mode := config.Mode
	if mode == "" || mode == ModeAuto {
		mode = ModeNone
		if fileExists(config.ModelPath) && fileExists(providers.GetSharedLibPath(config.SharedLibPath)) {
			mode = ModeONNX
		}
		logger.Info().Str("strategy", string(mode)).Msg("segmentation strategy selected")
	}

	switch mode {
	case ModeGrabCut:
		return newMasking(ModeGrabCut, &grabCut{iterations: max(1, config.GrabCutIterations)}, logger)
	case ModeONNX:
		return newMasking(ModeONNX, newONNXMasker(config, logger), logger)
	default:
		return BoxOnly{}
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// BoxOnly passes detections through unchanged.
type BoxOnly struct{}

// Refine implements Segmenter.
func (BoxOnly) Refine(_ context.Context, _ image.Image, detections []common.Detection) []common.Detection {
	return detections
}

// Mode implements Segmenter.
func (BoxOnly) Mode() Mode { return ModeNone }

// Close implements Segmenter.
func (BoxOnly) Close() error { return nil }

// masker is one mask-producing strategy. begin is called once per frame
// before any mask call and end after the last one.
type masker interface {
	available() bool
	begin(frame image.Image) error
	mask(d common.Detection, bounds image.Rectangle) (*common.Mask, error)
	end()
	close() error
}

// masking runs a masker over each detection independently.
type masking struct {
	mode   Mode
	masker masker
	logger zerolog.Logger
}

func newMasking(mode Mode, m masker, logger zerolog.Logger) *masking {
	return &masking{mode: mode, masker: m, logger: logger.With().Str("strategy", string(mode)).Logger()}
}

// Mode reports the strategy, or ModeNone once the masker has become
// unavailable.
func (s *masking) Mode() Mode {
	if !s.masker.available() {
		return ModeNone
	}
	return s.mode
}

// Refine implements Segmenter.
func (s *masking) Refine(ctx context.Context, frame image.Image, detections []common.Detection) []common.Detection {
	out := make([]common.Detection, len(detections))
	copy(out, detections)
	if len(out) == 0 || ctx.Err() != nil || !s.masker.available() {
		return out
	}

	if err := s.masker.begin(frame); err != nil {
		s.logger.Warn().Err(err).Msg("frame skipped by segmenter")
		return out
	}
	defer s.masker.end()

	bounds := frame.Bounds()
	for i, d := range out {
		m, err := s.masker.mask(d, bounds)
		if err != nil {
			s.logger.Debug().Err(err).Int("object", i).Str("class", d.Label).Msg("mask refinement failed")
			continue
		}
		out[i].Mask = m
	}
	return out
}

// Close implements Segmenter.
func (s *masking) Close() error {
	return s.masker.close()
}

// maskRect is the detection box clipped to the frame, in pixels.
func maskRect(d common.Detection, bounds image.Rectangle) (image.Rectangle, error) {
	r := d.Box.ToImageRect().Intersect(bounds)
	if r.Empty() {
		return r, errors.Errorf("box %s lies outside the frame", d.Box)
	}
	return r, nil
}
