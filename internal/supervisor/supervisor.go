// Package supervisor keeps one watcher running per configured camera.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mikeyg42/hypersight/internal/metrics"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/watcher"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// CameraLister enumerates the cameras that should be watched
type CameraLister interface {
	ListCameras(ctx context.Context) ([]storage.Camera, error)
}

// Runnable is a camera worker. *watcher.Watcher satisfies it.
type Runnable interface {
	Run(ctx context.Context) error
}

// Factory builds a fresh worker for a camera. It is called again on every
// restart so no state leaks from a crashed run.
type Factory func(cameraID int64) (Runnable, error)

// Worker states reported by Status
const (
	StateRunning    = "running"
	StateRestarting = "restarting"
	StateStopped    = "stopped"
	StateExited     = "exited"
)

// Options control rescans and restarts
type Options struct {
	RescanInterval        time.Duration
	RestartBackoffInitial time.Duration
	RestartBackoffMax     time.Duration
}

// CameraStatus is one row of Status
type CameraStatus struct {
	CameraID  int64             `json:"camera_id"`
	State     string            `json:"state"`
	Restarts  int               `json:"restarts"`
	LastError string            `json:"last_error,omitempty"`
	Since     time.Time         `json:"since"`
	Stats     *watcher.Snapshot `json:"stats,omitempty"`
}

type worker struct {
	cancel    context.CancelFunc
	cancelled bool          // Stop was called
	done      chan struct{} // closed once runWorker returns
	state     string
	restarts int
	lastErr  string
	since    time.Time
	stats    *watcher.Stats
}

// Supervisor owns the camera workers
type Supervisor struct {
	lister  CameraLister
	factory Factory
	opts    Options
	metrics *metrics.Collector
	logger  watchlog.Logger

	mu      sync.Mutex
	workers map[int64]*worker
	stopped map[int64]bool
	group   *errgroup.Group
	ctx     context.Context
}

// New returns an idle Supervisor; call Run to start watching
func New(lister CameraLister, factory Factory, opts Options, m *metrics.Collector, logger watchlog.Logger) *Supervisor {
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = 30 * time.Second
	}
	if opts.RestartBackoffInitial <= 0 {
		opts.RestartBackoffInitial = time.Second
	}
	if opts.RestartBackoffMax < opts.RestartBackoffInitial {
		opts.RestartBackoffMax = max(time.Minute, opts.RestartBackoffInitial)
	}
	if logger == nil {
		logger = watchlog.L()
	}
	return &Supervisor{
		lister:  lister,
		factory: factory,
		opts:    opts,
		metrics: m,
		logger:  logger.Named("supervisor"),
		workers: make(map[int64]*worker),
		stopped: make(map[int64]bool),
	}
}

// Run scans for cameras every RescanInterval and starts a worker for each
// one that is not already watched. It returns when ctx is cancelled and
// every worker has stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	if s.group != nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already running")
	}
	s.group, s.ctx = g, gctx
	s.mu.Unlock()

	s.logger.Info("Supervisor started", watchlog.Duration("rescan_interval", s.opts.RescanInterval))

	ticker := time.NewTicker(s.opts.RescanInterval)
	defer ticker.Stop()
	for {
		s.scan(gctx)
		select {
		case <-gctx.Done():
			err := g.Wait()
			s.mu.Lock()
			s.group, s.ctx = nil, nil
			s.mu.Unlock()
			s.logger.Info("Supervisor stopped")
			if err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) scan(ctx context.Context) {
	cams, err := s.lister.ListCameras(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Failed to list cameras", watchlog.Error(err))
		}
		return
	}
	for _, cam := range cams {
		s.mu.Lock()
		skip := s.stopped[cam.ID]
		s.mu.Unlock()
		if skip {
			continue
		}
		if err := s.Watch(cam.ID); err != nil && !errors.Is(err, errAlreadyWatched) {
			s.logger.Warn("Failed to start watcher", watchlog.Int64("camera_id", cam.ID), watchlog.Error(err))
		}
	}
}

var errAlreadyWatched = errors.New("camera already watched")

// Watch starts a worker for cameraID and clears any earlier Stop.
func (s *Supervisor) Watch(cameraID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil || s.ctx.Err() != nil {
		return fmt.Errorf("supervisor not running")
	}
	delete(s.stopped, cameraID)
	prev, ok := s.workers[cameraID]
	if ok && !prev.cancelled && (prev.state == StateRunning || prev.state == StateRestarting) {
		return errAlreadyWatched
	}

	ctx, cancel := context.WithCancel(s.ctx)
	w := &worker{cancel: cancel, done: make(chan struct{}), state: StateRunning, since: time.Now()}
	s.workers[cameraID] = w
	s.group.Go(func() error {
		defer close(w.done)
		defer cancel()
		// a stopped worker may still be winding down; never run two at once
		if prev != nil {
			select {
			case <-prev.done:
			case <-ctx.Done():
				s.setState(w, StateStopped)
				return nil
			}
		}
		s.runWorker(ctx, cameraID, w)
		return nil
	})
	s.updateGauge()
	return nil
}

// Stop cancels the camera's worker. Rescans leave it alone until Watch is
// called again.
func (s *Supervisor) Stop(cameraID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped[cameraID] = true
	w, ok := s.workers[cameraID]
	if !ok {
		return false
	}
	w.cancelled = true
	w.cancel()
	return true
}

// Status reports every known worker ordered by camera id
func (s *Supervisor) Status() []CameraStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CameraStatus, 0, len(s.workers))
	for id, w := range s.workers {
		st := CameraStatus{CameraID: id, State: w.state, Restarts: w.restarts, LastError: w.lastErr, Since: w.since}
		if w.stats != nil {
			snap := w.stats.Snapshot()
			st.Stats = &snap
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b CameraStatus) int {
		switch {
		case a.CameraID < b.CameraID:
			return -1
		case a.CameraID > b.CameraID:
			return 1
		}
		return 0
	})
	return out
}

// runWorker restarts crashed workers with exponential backoff. A nil return
// means the camera is gone and is final.
func (s *Supervisor) runWorker(ctx context.Context, cameraID int64, w *worker) {
	logger := s.logger.With(watchlog.Int64("camera_id", cameraID))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.RestartBackoffInitial
	bo.MaxInterval = s.opts.RestartBackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		started := time.Now()
		err := s.runOnce(ctx, cameraID, w)

		switch {
		case ctx.Err() != nil:
			s.setState(w, StateStopped)
			logger.Info("Watcher stopped")
			return
		case err == nil:
			s.setState(w, StateExited)
			logger.Info("Watcher exited")
			return
		}

		// a long healthy run earns a fresh backoff
		if time.Since(started) > s.opts.RestartBackoffMax {
			bo.Reset()
		}
		delay := bo.NextBackOff()

		s.mu.Lock()
		w.restarts++
		w.state = StateRestarting
		w.lastErr = err.Error()
		w.since = time.Now()
		s.mu.Unlock()
		s.metrics.WatcherRestarted(cameraID)
		logger.Error("Watcher crashed, restarting",
			watchlog.Duration("delay", delay),
			watchlog.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.setState(w, StateStopped)
			return
		case <-t.C:
		}
		s.setState(w, StateRunning)
	}
}

func (s *Supervisor) runOnce(ctx context.Context, cameraID int64, w *worker) error {
	r, err := s.factory(cameraID)
	if err != nil {
		return fmt.Errorf("build watcher: %w", err)
	}
	if sp, ok := r.(interface{ Stats() *watcher.Stats }); ok {
		s.mu.Lock()
		w.stats = sp.Stats()
		s.mu.Unlock()
	}
	return r.Run(ctx)
}

func (s *Supervisor) setState(w *worker, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.state = state
	w.since = time.Now()
	s.updateGauge()
}

// updateGauge requires s.mu
func (s *Supervisor) updateGauge() {
	n := 0
	for _, w := range s.workers {
		if w.state == StateRunning || w.state == StateRestarting {
			n++
		}
	}
	s.metrics.SetActiveWatchers(n)
}
