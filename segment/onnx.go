package segment

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-insights/common"
	"github.com/nvr-ai/go-insights/images"
	"github.com/nvr-ai/go-insights/inference"
	"github.com/nvr-ai/go-insights/inference/providers"
)

// onnxMasker runs a box-prompted mask decoder with inputs
// image [1,3,S,S] and box [1,4] (model pixels) and output mask [1,1,S,S]
// of logits.
//
// The model is loaded on first use. If loading fails the masker stays
// unavailable for the life of the process.
type onnxMasker struct {
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	session  *inference.Session
	degraded bool

	scaleX, scaleY float32
}

func newONNXMasker(config Config, logger zerolog.Logger) *onnxMasker {
	if config.InputSize <= 0 {
		config.InputSize = DefaultConfig().InputSize
	}
	return &onnxMasker{config: config, logger: logger}
}

func (o *onnxMasker) available() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ensureLoadedLocked(); err != nil {
		return false
	}
	return true
}

func (o *onnxMasker) ensureLoadedLocked() error {
	if o.degraded {
		return errors.New("mask model unavailable")
	}
	if o.session != nil {
		return nil
	}

	err := inference.InitRuntime(providers.GetSharedLibPath(o.config.SharedLibPath))
	if err == nil {
		s := int64(o.config.InputSize)
		o.session, err = inference.NewSession(inference.SessionSpec{
			ModelPath: o.config.ModelPath,
			Inputs: []inference.TensorSpec{
				{Name: "image", Shape: []int64{1, 3, s, s}},
				{Name: "box", Shape: []int64{1, 4}},
			},
			Outputs:  []inference.TensorSpec{{Name: "mask", Shape: []int64{1, 1, s, s}}},
			Provider: o.config.Provider,
		})
	}
	if err != nil {
		o.degraded = true
		o.logger.Warn().Err(err).Str("model", o.config.ModelPath).Msg("mask model unavailable, continuing without masks")
		return err
	}
	o.logger.Info().Str("model", o.config.ModelPath).Msg("mask model loaded")
	return nil
}

func (o *onnxMasker) begin(frame image.Image) error {
	o.mu.Lock()
	if err := o.ensureLoadedLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	// Held until end so the bound tensors are not shared between frames.
	size := o.config.InputSize
	b := frame.Bounds()
	o.scaleX = float32(size) / float32(b.Dx())
	o.scaleY = float32(size) / float32(b.Dy())
	if err := inference.PrepareInput(frame, size, o.session.Inputs[0].GetData()); err != nil {
		o.mu.Unlock()
		return err
	}
	return nil
}

func (o *onnxMasker) mask(d common.Detection, bounds image.Rectangle) (*common.Mask, error) {
	r, err := maskRect(d, bounds)
	if err != nil {
		return nil, err
	}

	box := o.session.Inputs[1].GetData()
	box[0] = float32(r.Min.X-bounds.Min.X) * o.scaleX
	box[1] = float32(r.Min.Y-bounds.Min.Y) * o.scaleY
	box[2] = float32(r.Max.X-bounds.Min.X) * o.scaleX
	box[3] = float32(r.Max.Y-bounds.Min.Y) * o.scaleY
	if err := o.session.Run(); err != nil {
		return nil, errors.Wrap(err, "running mask model")
	}

	return decodeMask(o.session.Outputs[0].GetData(), o.config.InputSize, r, bounds, o.config.MaskThreshold)
}

func (o *onnxMasker) end() {
	o.mu.Unlock()
}

func (o *onnxMasker) close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.session.Close()
		o.session = nil
	}
	return nil
}

// decodeMask thresholds a size x size logit map, sampling it only inside r so
// the resulting mask never leaves the detection box.
func decodeMask(logits []float32, size int, r, frame image.Rectangle, threshold float32) (*common.Mask, error) {
	if len(logits) < size*size {
		return nil, errors.Errorf("mask output holds %d values, want %d", len(logits), size*size)
	}
	t := tensor.New(tensor.WithShape(size, size), tensor.WithBacking(logits[:size*size]))

	sx := float64(size) / float64(frame.Dx())
	sy := float64(size) / float64(frame.Dy())

	m := common.NewMask(images.FromImageRect(r))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		my := min(size-1, int(float64(y-frame.Min.Y)*sy))
		for x := r.Min.X; x < r.Max.X; x++ {
			mx := min(size-1, int(float64(x-frame.Min.X)*sx))
			v, err := t.At(my, mx)
			if err != nil {
				return nil, errors.Wrap(err, "reading mask logits")
			}
			if v.(float32) > threshold {
				m.Set(x, y, true)
			}
		}
	}
	if m.Area() == 0 {
		return nil, errors.New("mask model found no foreground")
	}
	return m, nil
}
