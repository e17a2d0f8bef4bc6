package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/mikeyg42/hypersight/internal/api"
	"github.com/mikeyg42/hypersight/internal/config"
	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/metrics"
	"github.com/mikeyg42/hypersight/internal/processor"
	"github.com/mikeyg42/hypersight/internal/relay"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/supervisor"
	"github.com/mikeyg42/hypersight/internal/watcher"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// application holds what every command shares
type application struct {
	cfg     *config.Config
	logger  watchlog.Logger
	metrics *metrics.Collector

	closers []func() error
}

func newApplication(configPath string, envFiles []string, logLevel string) (*application, error) {
	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := watchlog.New(cfg.Log.LogOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	watchlog.ReplaceGlobal(logger)

	logger.Info("Configuration loaded",
		watchlog.String("service", cfg.Service.Name),
		watchlog.String("environment", cfg.Service.Environment),
		watchlog.String("storage", cfg.Storage.Driver))

	return &application{cfg: cfg, logger: logger, metrics: metrics.NewCollector()}, nil
}

func (a *application) close() {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	if err != nil {
		a.logger.Warn("Errors during shutdown", watchlog.Error(err))
	}
	a.logger.Sync()
}

func (a *application) openStore(ctx context.Context) (*storage.SQLStore, error) {
	driver, dsn := a.cfg.DataSourceName()
	pg := a.cfg.Storage.Postgres
	store, err := storage.OpenSQLStore(ctx, storage.SQLConfig{
		Driver:          driver,
		DSN:             dsn,
		MaxConnections:  pg.MaxConnections,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: pg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// openPreviews returns nil when MinIO is disabled
func (a *application) openPreviews(ctx context.Context) (storage.ObjectStore, error) {
	m := a.cfg.Storage.MinIO
	if !m.Enabled {
		return nil, nil
	}
	store, err := storage.NewMinIOStore(ctx, storage.MinIOConfig{
		Endpoint:        m.Endpoint,
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
		UseSSL:          m.UseSSL,
		Bucket:          m.Bucket,
		Region:          m.Region,
		ConnectTimeout:  m.ConnectTimeout,
		MaxRetries:      m.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open preview store: %w", err)
	}
	return store, nil
}

// publisher returns nil when no relay is configured
func (a *application) publisher() processor.Publisher {
	if a.cfg.Relay.PublishURL == "" {
		return nil
	}
	p := relay.NewPublisher(a.cfg.Relay.PublishURL, a.logger)
	a.closers = append(a.closers, p.Close)
	return p
}

// pipeline is what every watcher in this process shares
type pipeline struct {
	store     *storage.SQLStore
	previews  storage.ObjectStore // nil without MinIO
	stages    watcher.Stages
	publisher processor.Publisher
}

func (a *application) openPipeline(ctx context.Context) (*pipeline, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	previews, err := a.openPreviews(ctx)
	if err != nil {
		return nil, err
	}
	stages, err := watcher.NewStages(a.cfg, previews, a.metrics, a.logger)
	if err != nil {
		return nil, err
	}
	return &pipeline{store: store, previews: previews, stages: stages, publisher: a.publisher()}, nil
}

// newWatcher builds a fresh watcher; called again on every restart
func (a *application) newWatcher(p *pipeline, cameraID int64) (*watcher.Watcher, error) {
	return watcher.New(watcher.OptionsFor(a.cfg, cameraID), watcher.Deps{
		Stages:    p.stages,
		Store:     p.store,
		Sink:      p.store,
		Publisher: p.publisher,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
}

// watch runs one camera in this process; a signal or deleted camera ends it
func (a *application) watch(ctx context.Context, cameraID int64) error {
	p, err := a.openPipeline(ctx)
	if err != nil {
		return err
	}
	w, err := a.newWatcher(p, cameraID)
	if err != nil {
		return err
	}

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		a.logger.Info("Watch stopped by signal", watchlog.Int64("camera_id", cameraID))
		return nil
	}
	return err
}

func (a *application) supervise(ctx context.Context) error {
	p, err := a.openPipeline(ctx)
	if err != nil {
		return err
	}

	sup := supervisor.New(p.store, func(cameraID int64) (supervisor.Runnable, error) {
		w, err := a.newWatcher(p, cameraID)
		if err != nil {
			return nil, err
		}
		return w, nil
	}, supervisor.Options{
		RescanInterval:    a.cfg.Watcher.RescanInterval,
		RestartBackoffMax: a.cfg.Watcher.RestartBackoffMax,
	}, a.metrics, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(sup.Run(gctx)) })
	if a.cfg.API.Enabled {
		deps := api.Deps{
			Store:   p.store,
			Status:  sup,
			Metrics: a.metrics,
			Logger:  a.logger,
		}
		if p.previews != nil {
			deps.Frames = frames.NewGrabber(p.previews, a.logger)
		}
		srv := api.NewServer(a.cfg.API, a.cfg.Metrics, deps)
		g.Go(func() error { return srv.Run(gctx) })
	}
	return g.Wait()
}

func (a *application) relay(ctx context.Context) error {
	srv := relay.NewServer(relay.NewRegistry(), a.metrics, a.logger)
	return ignoreCanceled(srv.ListenAndServe(ctx, a.cfg.Relay.ListenAddr))
}

func (a *application) initDB(ctx context.Context, seedPath string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("Schema ready")
	if seedPath == "" {
		return nil
	}

	seed, err := loadSeed(seedPath)
	if err != nil {
		return err
	}
	cams, procs, err := seed.apply(ctx, store)
	if err != nil {
		return err
	}
	a.logger.Info("Seed loaded", watchlog.Int("cameras", cams), watchlog.Int("processors", procs))
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
