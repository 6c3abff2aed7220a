package segment

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-insights/common"
	"github.com/nvr-ai/go-insights/images"
)

// GrabCut mask labels for (probable) foreground.
const (
	gcForeground         = 1
	gcProbableForeground = 3
)

// grabCut seeds OpenCV GrabCut with each detection box. The frame Mat is
// owned by one Refine call at a time: mu is held from begin until end.
type grabCut struct {
	iterations int

	mu     sync.Mutex
	frame  gocv.Mat
	loaded bool
}

func (g *grabCut) available() bool { return true }

func (g *grabCut) begin(frame image.Image) error {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return errors.Wrap(err, "converting frame")
	}
	g.mu.Lock()
	g.frame = mat
	g.loaded = true
	return nil
}

func (g *grabCut) mask(d common.Detection, bounds image.Rectangle) (*common.Mask, error) {
	r, err := maskRect(d, bounds)
	if err != nil {
		return nil, err
	}
	// GrabCut needs at least a pixel of background around the rectangle.
	if r.Dx() >= g.frame.Cols()-1 && r.Dy() >= g.frame.Rows()-1 {
		return nil, errors.New("box covers the whole frame")
	}

	labels := gocv.NewMatWithSize(g.frame.Rows(), g.frame.Cols(), gocv.MatTypeCV8U)
	defer labels.Close()
	bgd := gocv.NewMat()
	defer bgd.Close()
	fgd := gocv.NewMat()
	defer fgd.Close()

	gocv.GrabCut(g.frame, &labels, r, &bgd, &fgd, g.iterations, gocv.GCInitWithRect)

	m := common.NewMask(images.FromImageRect(r))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if v := labels.GetUCharAt(y, x); v == gcForeground || v == gcProbableForeground {
				m.Set(x, y, true)
			}
		}
	}
	if m.Area() == 0 {
		return nil, errors.New("grabcut found no foreground")
	}
	return m, nil
}

func (g *grabCut) end() {
	g.release()
	g.mu.Unlock()
}

func (g *grabCut) release() {
	if g.loaded {
		g.frame.Close()
		g.loaded = false
	}
}

func (g *grabCut) close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release()
	return nil
}
