package watcher

import (
	"fmt"
	"net/http"

	"github.com/mikeyg42/hypersight/internal/config"
	"github.com/mikeyg42/hypersight/internal/detect"
	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/metrics"
	"github.com/mikeyg42/hypersight/internal/processor"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/stream"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// NewStages builds the production pipeline from cfg. previews may be nil.
func NewStages(cfg *config.Config, previews storage.ObjectStore, m *metrics.Collector, logger watchlog.Logger) (Stages, error) {
	if logger == nil {
		logger = watchlog.L()
	}
	client := &http.Client{}

	opts := []processor.RunnerOption{processor.WithMetrics(m)}
	if previews != nil {
		opts = append(opts, processor.WithPreviews(processor.NewPreviewer(previews, logger)))
	}
	runner, err := processor.NewRunner(cfg.Watcher.ProcessorFailurePolicy, logger, opts...)
	if err != nil {
		return Stages{}, fmt.Errorf("failed to create processor runner: %w", err)
	}

	return Stages{
		Source: stream.NewSource(client, cfg.Watcher.ManifestTimeout),
		Fetcher: stream.NewDownloader(client, stream.DownloadConfig{
			MaxAttempts:    cfg.Watcher.MaxDownloadAttempts,
			RetryInterval:  cfg.Watcher.DownloadRetryInterval,
			AttemptTimeout: cfg.Watcher.DownloadTimeout,
		}, logger),
		Sampler:   frames.NewSampler(logger),
		Annotator: detect.NewAnnotator(detect.NewClient(cfg.Detector.URL, cfg.Detector.Timeout), logger),
		Runner:    runner,
	}, nil
}

// OptionsFor derives one camera's Options from cfg
func OptionsFor(cfg *config.Config, cameraID int64) Options {
	return Options{
		CameraID:          cameraID,
		ReconnectInterval: cfg.Watcher.ReconnectInterval,
		MinPollInterval:   cfg.Watcher.MinPollInterval,
		SegmentsDir:       cfg.CameraSegmentsDir(cameraID),
	}
}
