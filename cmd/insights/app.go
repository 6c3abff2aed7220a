package main

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nvr-ai/go-insights/config"
	"github.com/nvr-ai/go-insights/inference/detectors"
	"github.com/nvr-ai/go-insights/insights"
	"github.com/nvr-ai/go-insights/pipeline"
	"github.com/nvr-ai/go-insights/project"
	"github.com/nvr-ai/go-insights/segment"
	"github.com/nvr-ai/go-insights/tracker"
	"github.com/nvr-ai/go-insights/video"
)

// app owns the long-lived handles built from configuration.
type app struct {
	manager   *project.Manager
	store     project.Store
	detector  *detectors.ONNXDetector
	segmenter segment.Segmenter
}

func openStore(cfg *config.Config) (project.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		return project.NewMemoryStore(), nil
	default:
		return project.OpenSQLite(cfg.DSN())
	}
}

// newApp wires the pipeline and project manager. Models are loaded lazily on
// first use.
func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "opening project store")
	}

	extractor := video.NewExtractor(cfg.Video, logger)
	detector := detectors.NewONNXDetector(cfg.Detector, logger)
	segmenter := segment.New(cfg.Segmenter, logger)
	trackerConfig := cfg.Tracker

	runner := pipeline.New(pipeline.Deps{
		Extractor:  extractor,
		Loader:     video.FrameLoader{},
		Detector:   detector,
		Segmenter:  segmenter,
		NewTracker: func() tracker.Tracker { return tracker.New(trackerConfig) },
		Masks:      video.MaskFiles{},
		NewAnnotator: func(path string, fps float64) pipeline.Annotator {
			return video.NewAnnotatedWriter(path, fps)
		},
	}, cfg.Pipeline, logger)

	manager := project.NewManager(store, runner, extractor, cfg.Projects, logger)
	if cfg.Analysis.APIKey != "" {
		manager.WithNarrator(insights.NewClient(cfg.Analysis, logger))
	}

	return &app{manager: manager, store: store, detector: detector, segmenter: segmenter}, nil
}

func (a *app) Close() error {
	a.manager.Wait()
	var first error
	for _, c := range []interface{ Close() error }{a.detector, a.segmenter, a.store} {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
