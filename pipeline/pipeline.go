package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/nvr-ai/go-insights/common"
	"github.com/nvr-ai/go-insights/profiler"
	"github.com/nvr-ai/go-insights/results"
	"github.com/nvr-ai/go-insights/segment"
	"github.com/nvr-ai/go-insights/tracker"
)

// Pipeline processes one video at a time, frame by frame, in extraction order.
// Separate videos may be run concurrently; per-run state lives in Run.
type Pipeline struct {
	deps   Deps
	config Config
	logger zerolog.Logger
}

// New creates a pipeline.
func New(deps Deps, config Config, logger zerolog.Logger) *Pipeline {
	if deps.Segmenter == nil {
		deps.Segmenter = segment.BoxOnly{}
	}
	if deps.NewTracker == nil {
		deps.NewTracker = func() tracker.Tracker { return tracker.New(tracker.DefaultConfig()) }
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = DefaultConfig().ProgressEvery
	}
	return &Pipeline{
		deps:   deps,
		config: config,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run extracts, detects, tracks and segments every frame and commits the
// artifact to in.ArtifactPath(). Any stage failure aborts the run and nothing
// is committed.
//
// Arguments:
//   - ctx: Cancels the run between frames.
//   - in: The run input.
//   - progress: Published to as the run advances. May be nil.
//
// Returns:
//   - *results.SegmentationResult: The committed result.
//   - error: A *StageError on failure.
func (p *Pipeline) Run(ctx context.Context, in Input, progress *Progress) (*results.SegmentationResult, error) {
	if progress == nil {
		progress = NewProgress()
	}
	logger := p.logger.With().Str("run_id", in.RunID).Logger()
	start := time.Now()

	progress.publish(Snapshot{Message: "Extracting frames..."})
	refs, meta, err := p.deps.Extractor.ExtractToDir(ctx, in.VideoPath, in.FrameDir)
	if err != nil {
		return nil, p.fail(logger, progress, &StageError{Stage: StageExtract, FrameIndex: -1, Err: err})
	}

	logger.Info().
		Int("frames", len(refs)).
		Float64("extraction_fps", meta.ExtractionFPS).
		Str("segmenter", string(p.deps.Segmenter.Mode())).
		Msg("processing frames")

	agg := results.NewAggregator()
	committed := false
	defer func() {
		if !committed {
			agg.Abort()
		}
	}()

	var annotator Annotator
	if in.AnnotatedPath != "" && p.deps.NewAnnotator != nil {
		annotator = p.deps.NewAnnotator(in.AnnotatedPath, meta.ExtractionFPS)
		defer func() {
			if annotator != nil {
				if err := annotator.Close(); err != nil {
					logger.Warn().Err(err).Msg("closing annotated video")
				}
			}
		}()
	}

	tr := p.deps.NewTracker()
	prof := profiler.New()
	defer prof.Log(logger)
	total := len(refs)
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, p.fail(logger, progress, &StageError{Stage: StageCancel, FrameIndex: ref.Index, Err: err})
		}

		img, dets, serr := p.processFrame(ctx, in, ref, tr, prof, logger)
		if serr != nil {
			return nil, p.fail(logger, progress, serr)
		}

		record := results.FrameRecord{
			FrameIndex: ref.Index,
			Timestamp:  results.Timestamp(ref.Index, meta.ExtractionFPS),
			Objects:    make([]results.Object, len(dets)),
		}
		for j, d := range dets {
			record.Objects[j] = results.NewObject(d)
		}
		if err := agg.Add(record); err != nil {
			return nil, p.fail(logger, progress, &StageError{Stage: StageCommit, FrameIndex: ref.Index, Err: err})
		}

		if annotator != nil {
			done := prof.StartOperation("annotate")
			err := annotator.WriteFrame(img, dets)
			done()
			if err != nil {
				logger.Warn().Err(err).Int("frame", ref.Index).Msg("annotated video disabled")
				if err := annotator.Close(); err != nil {
					logger.Warn().Err(err).Msg("closing annotated video")
				}
				annotator = nil
			}
		}

		if i == 0 || (i+1)%p.config.ProgressEvery == 0 || i == total-1 {
			stats := agg.Stats()
			progress.publish(Snapshot{
				Percent:     min(99, (i+1)*100/total),
				Message:     fmt.Sprintf("Processing frame %d/%d", i+1, total),
				Frame:       i + 1,
				TotalFrames: total,
				Stats:       &stats,
			})
		}
	}

	progress.publish(Snapshot{Percent: 99, Message: "Finalizing results...", Frame: total, TotalFrames: total})
	result, err := agg.Commit(in.ArtifactPath(), meta, time.Since(start))
	if err != nil {
		return nil, p.fail(logger, progress, &StageError{Stage: StageCommit, FrameIndex: -1, Err: err})
	}
	committed = true

	progress.publish(Snapshot{
		Percent:     100,
		Message:     "Segmentation complete",
		Frame:       total,
		TotalFrames: total,
		Stats:       &result.Stats,
		Done:        true,
	})
	logger.Info().
		Int("frames", result.Stats.TotalFrames).
		Int("objects", result.Stats.TotalObjects).
		Int("unique_objects", result.Stats.UniqueObjects).
		Float64("seconds", result.Stats.ProcessingTimeSeconds).
		Msg("segmentation complete")
	return result, nil
}

// processFrame runs load, detect, track and segment for one frame and
// persists any masks.
func (p *Pipeline) processFrame(
	ctx context.Context,
	in Input,
	ref common.FrameRef,
	tr tracker.Tracker,
	prof *profiler.StageProfiler,
	logger zerolog.Logger,
) (image.Image, []common.Detection, *StageError) {
	done := prof.StartOperation(string(StageLoad))
	img, err := p.deps.Loader.Load(ref)
	done()
	if err != nil {
		return nil, nil, &StageError{Stage: StageLoad, FrameIndex: ref.Index, Err: err}
	}

	done = prof.StartOperation(string(StageDetect))
	dets, err := p.deps.Detector.Detect(ctx, img)
	done()
	if err != nil {
		return nil, nil, &StageError{Stage: StageDetect, FrameIndex: ref.Index, Err: err}
	}

	done = prof.StartOperation("track")
	dets = tr.Update(dets)
	done()

	done = prof.StartOperation("segment")
	dets = p.deps.Segmenter.Refine(ctx, img, dets)
	done()

	if p.deps.Masks != nil {
		b := img.Bounds()
		for j := range dets {
			if dets[j].Mask == nil {
				continue
			}
			path, err := p.deps.Masks.WriteMask(in.FrameDir, ref.Index, j, dets[j].Mask, b.Dx(), b.Dy())
			if err != nil {
				logger.Warn().Err(err).Int("frame", ref.Index).Int("object", j).Msg("mask not saved")
				continue
			}
			dets[j].MaskPath = path
		}
	}
	return img, dets, nil
}

func (p *Pipeline) fail(logger zerolog.Logger, progress *Progress, err *StageError) error {
	logger.Error().
		Err(err.Err).
		Str("stage", string(err.Stage)).
		Int("frame", err.FrameIndex).
		Msg("segmentation failed")
	last := progress.Load()
	progress.publish(Snapshot{
		Percent:     last.Percent,
		Message:     "Failed: " + err.Error(),
		Frame:       last.Frame,
		TotalFrames: last.TotalFrames,
		Done:        true,
	})
	return err
}
