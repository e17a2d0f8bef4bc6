// Package watcher runs the per-camera polling loop: reload configuration,
// resolve the live playlist, and push every new segment through download,
// sampling, detection and the camera's processors.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mikeyg42/hypersight/internal/detect"
	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/metrics"
	"github.com/mikeyg42/hypersight/internal/processor"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/stream"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// ManifestSource resolves a camera's stream URL to its current segment list
type ManifestSource interface {
	Resolve(ctx context.Context, streamURL string) (*stream.Manifest, error)
}

// SegmentFetcher downloads one segment to dst
type SegmentFetcher interface {
	Download(ctx context.Context, seg stream.Segment, dst string) (int64, error)
}

// FrameSampler decodes a downloaded segment into timestamped frames
type FrameSampler interface {
	Sample(ctx context.Context, path string, opts frames.SampleOptions) ([]*frames.Frame, error)
}

// FrameAnnotator attaches detections to frames
type FrameAnnotator interface {
	Annotate(ctx context.Context, fs []*frames.Frame, g detect.Grid) error
}

// ProcessorRunner hands annotated frames to processors
type ProcessorRunner interface {
	Run(ctx context.Context, procs []processor.Processor, fs []*frames.Frame) error
}

// Stages are the stateless pipeline steps. One Stages value can be shared
// by every camera.
type Stages struct {
	Source    ManifestSource
	Fetcher   SegmentFetcher
	Sampler   FrameSampler
	Annotator FrameAnnotator
	Runner    ProcessorRunner
}

// Deps are the watcher's collaborators
type Deps struct {
	Stages

	Store     storage.ConfigStore
	Sink      storage.EventSink
	Publisher processor.Publisher // optional
	Metrics   *metrics.Collector  // optional
	Logger    watchlog.Logger
}

// Options tune one watcher
type Options struct {
	CameraID          int64
	ReconnectInterval time.Duration
	MinPollInterval   time.Duration
	// SegmentsDir holds this camera's temp files and nothing else.
	SegmentsDir string
}

var errCameraGone = errors.New("camera no longer exists")

// Watcher is the sequential worker for one camera
type Watcher struct {
	opts   Options
	deps   Deps
	logger watchlog.Logger

	window segmentWindow
	procs  *processor.Set
	stats  Stats

	sleep func(ctx context.Context, d time.Duration) error
}

// New validates deps and prepares the camera's temp directory
func New(opts Options, deps Deps) (*Watcher, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("watcher: config store is required")
	case deps.Sink == nil:
		return nil, fmt.Errorf("watcher: event sink is required")
	case deps.Source == nil || deps.Fetcher == nil || deps.Sampler == nil || deps.Annotator == nil || deps.Runner == nil:
		return nil, fmt.Errorf("watcher: every pipeline stage is required")
	case opts.SegmentsDir == "":
		return nil, fmt.Errorf("watcher: segments dir is required")
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.MinPollInterval <= 0 {
		opts.MinPollInterval = time.Second
	}
	if err := os.MkdirAll(opts.SegmentsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create segments dir %s: %w", opts.SegmentsDir, err)
	}

	if deps.Logger == nil {
		deps.Logger = watchlog.L()
	}
	logger := deps.Logger.Named("watcher").With(watchlog.Int64("camera_id", opts.CameraID))

	w := &Watcher{
		opts:   opts,
		deps:   deps,
		logger: logger,
		sleep:  sleepContext,
	}
	w.procs = processor.NewSet(processor.Deps{
		CameraID:  opts.CameraID,
		Sink:      deps.Sink,
		Publisher: deps.Publisher,
		Metrics:   deps.Metrics,
		Logger:    logger,
	})
	return w, nil
}

// CameraID is the camera this watcher follows
func (w *Watcher) CameraID() int64 { return w.opts.CameraID }

// Stats exposes live counters
func (w *Watcher) Stats() *Stats { return &w.stats }

// Run loops until the camera is deleted (nil), ctx is cancelled (ctx.Err())
// or an invariant is violated. Transient failures never end the loop.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("Watcher started",
		watchlog.Duration("reconnect_interval", w.opts.ReconnectInterval),
		watchlog.String("segments_dir", w.opts.SegmentsDir))

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("Watcher stopped, shutdown requested")
			return err
		}

		delay, err := w.iterate(ctx)
		switch {
		case errors.Is(err, errCameraGone):
			w.logger.Info("Camera removed, watcher exiting")
			return nil
		case ctx.Err() != nil:
			w.logger.Info("Watcher stopped, shutdown requested")
			return ctx.Err()
		case err != nil:
			w.logger.Error("Watcher failed", watchlog.Error(err))
			return err
		}

		if err := w.sleep(ctx, delay); err != nil {
			w.logger.Info("Watcher stopped, shutdown requested")
			return err
		}
	}
}

// iterate performs one poll and returns how long to wait before the next
func (w *Watcher) iterate(ctx context.Context) (time.Duration, error) {
	w.stats.Iterations.Add(1)

	cam, procs, err := w.reload(ctx)
	if err != nil {
		if errors.Is(err, errCameraGone) || ctx.Err() != nil {
			return 0, err
		}
		w.logger.Warn("Failed to load configuration, retrying", watchlog.Error(err))
		return w.opts.ReconnectInterval, nil
	}
	if len(procs) == 0 {
		w.logger.Debug("No enabled processors, idling")
		return w.opts.ReconnectInterval, nil
	}

	grid := detect.Grid{Rows: cam.GridRows, Cols: cam.GridCols}
	if err := grid.Validate(); err != nil {
		return 0, fmt.Errorf("camera %d: %w", cam.ID, err)
	}

	start := time.Now()
	manifest, err := w.deps.Source.Resolve(ctx, cam.StreamURL)
	w.deps.Metrics.ObserveStage(metrics.StageManifest, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		w.logger.Warn("Stream unavailable, reconnecting",
			watchlog.String("stream_url", cam.StreamURL),
			watchlog.Duration("retry_in", w.opts.ReconnectInterval),
			watchlog.Error(err))
		return w.opts.ReconnectInterval, nil
	}

	for _, seg := range manifest.Segments {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if w.window.Contains(seg.URI) {
			continue
		}

		err := w.handleSegment(ctx, cam, manifest, seg, grid, procs)
		if errors.Is(err, errStopSegments) {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	w.window.Trim(len(manifest.Segments))

	return PollDelay(len(manifest.Segments), manifest.TargetDuration, w.opts.MinPollInterval), nil
}

// reload re-reads the camera and its processors. Edits become visible at the
// next iteration at the latest.
func (w *Watcher) reload(ctx context.Context) (*storage.Camera, []processor.Processor, error) {
	cam, err := w.deps.Store.GetCamera(ctx, w.opts.CameraID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, errCameraGone
		}
		return nil, nil, fmt.Errorf("load camera: %w", err)
	}

	cfgs, err := w.deps.Store.ListEnabledProcessors(ctx, cam.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrInvalidProcessor) {
			return nil, nil, fmt.Errorf("load processors: %w", err)
		}
		w.logger.Warn("Skipping undecodable processors", watchlog.Error(err))
	}

	procs, err := w.procs.Sync(cfgs)
	if err != nil {
		// the processors that did build still run
		w.logger.Warn("Some processors could not be built", watchlog.Error(err))
	}
	return cam, procs, nil
}

// PollDelay waits for roughly all but the two newest segments to roll over,
// but never less than floor.
func PollDelay(segments int, target, floor time.Duration) time.Duration {
	return max(floor, time.Duration(segments-2)*target)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
