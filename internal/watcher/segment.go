package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mikeyg42/hypersight/internal/detect"
	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/metrics"
	"github.com/mikeyg42/hypersight/internal/processor"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/stream"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// errStopSegments ends the current iteration's segment loop. The watch
// itself continues with the next poll.
var errStopSegments = errors.New("stop segment loop")

// handleSegment runs download, sample, detect and process for one segment.
// It returns nil when the loop should move on, errStopSegments to end this
// iteration, or an error that ends the watch.
func (w *Watcher) handleSegment(ctx context.Context, cam *storage.Camera, m *stream.Manifest,
	seg stream.Segment, grid detect.Grid, procs []processor.Processor) error {

	logger := w.logger.With(watchlog.String("segment", seg.URI), watchlog.Uint64("sequence", seg.Sequence))
	segStart := time.Now()

	fs, err := w.fetchFrames(ctx, cam, m, seg, logger)
	if err != nil {
		return err
	}
	if fs == nil {
		return nil
	}
	defer frames.CloseAll(fs)

	if len(fs) == 0 {
		logger.Warn("Segment yielded no frames, skipping")
		w.skip(seg, "empty")
		return nil
	}

	start := time.Now()
	err = w.deps.Annotator.Annotate(ctx, fs, grid)
	w.timed(logger, metrics.StageDetect, start, watchlog.Int("frames", len(fs)))
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, detect.ErrGridMismatch), errors.Is(err, detect.ErrInvalidGrid):
			return fmt.Errorf("segment %s: %w", seg.URI, err)
		}
		w.stats.DetectFailures.Add(1)
		w.deps.Metrics.SegmentSkipped(cam.ID, "detect")
		logger.Error("Detection failed, abandoning remaining segments", watchlog.Error(err))
		return errStopSegments
	}

	start = time.Now()
	err = w.deps.Runner.Run(ctx, procs, fs)
	w.timed(logger, metrics.StageProcess, start, watchlog.Int("processors", len(procs)))
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	// processors have seen the frames; replaying them would double count
	w.window.Add(seg.URI)
	w.stats.markSegment(seg.ProgramDateTime)

	var runErr *processor.RunError
	if errors.As(err, &runErr) {
		w.stats.ProcessorFailures.Add(uint64(len(runErr.Failures)))
		if runErr.Aborted {
			logger.Error("Processor run aborted, abandoning remaining segments", watchlog.Error(err))
			return errStopSegments
		}
		logger.Warn("Some processors failed", watchlog.Error(err))
	} else if err != nil {
		logger.Error("Processor run failed, abandoning remaining segments", watchlog.Error(err))
		return errStopSegments
	}

	w.stats.SegmentsProcessed.Add(1)
	w.deps.Metrics.SegmentProcessed(cam.ID)
	logger.Info("Segment processed",
		watchlog.Int("frames", len(fs)),
		watchlog.Duration("elapsed", time.Since(segStart)))
	return nil
}

// fetchFrames downloads the segment to a temp file and samples it. A nil
// slice with a nil error means the segment was skipped.
func (w *Watcher) fetchFrames(ctx context.Context, cam *storage.Camera, m *stream.Manifest,
	seg stream.Segment, logger watchlog.Logger) ([]*frames.Frame, error) {

	path := filepath.Join(w.opts.SegmentsDir, uuid.NewString()+filepath.Ext(seg.URI))
	defer w.removeTemp(path)

	start := time.Now()
	n, err := w.deps.Fetcher.Download(ctx, seg, path)
	w.timed(logger, metrics.StageDownload, start, watchlog.Int64("bytes", n))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		attempts := 0
		var dlErr *stream.DownloadError
		if errors.As(err, &dlErr) {
			attempts = dlErr.Attempts
		}
		// not recorded: a later poll retries while the playlist still lists it
		w.stats.DownloadFailures.Add(1)
		w.stats.SegmentsSkipped.Add(1)
		w.deps.Metrics.SegmentSkipped(cam.ID, "download")
		logger.Warn("Segment download failed, skipping",
			watchlog.Int("attempts", attempts),
			watchlog.Error(err))
		return nil, nil
	}

	start = time.Now()
	fs, err := w.deps.Sampler.Sample(ctx, path, frames.SampleOptions{
		FrameRate: m.FrameRate,
		TargetFPS: cam.WatchFPS,
		Anchor:    seg.ProgramDateTime,
		TZOffset:  cam.TZOffset(),
	})
	w.timed(logger, metrics.StageSample, start, watchlog.Int("frames", len(fs)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// undecodable data does not improve on a retry
		logger.Warn("Segment could not be decoded, skipping", watchlog.Error(err))
		w.skip(seg, "decode")
		return nil, nil
	}
	if fs == nil {
		fs = []*frames.Frame{}
	}
	return fs, nil
}

func (w *Watcher) skip(seg stream.Segment, reason string) {
	w.window.Add(seg.URI)
	w.stats.SegmentsSkipped.Add(1)
	w.deps.Metrics.SegmentSkipped(w.opts.CameraID, reason)
}

func (w *Watcher) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("Failed to remove temp segment", watchlog.String("path", path), watchlog.Error(err))
	}
}

func (w *Watcher) timed(logger watchlog.Logger, stage string, start time.Time, fields ...watchlog.Field) {
	elapsed := time.Since(start)
	w.deps.Metrics.ObserveStage(stage, elapsed)
	logger.Debug("Stage finished", append([]watchlog.Field{
		watchlog.String("stage", stage),
		watchlog.Duration("elapsed", elapsed),
	}, fields...)...)
}
