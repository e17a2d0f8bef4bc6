// Package processor turns annotated frames into persisted metric events.
// The variants form a closed set selected by storage.ProcessorKind.
package processor

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/multierr"

	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/metrics"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// Processor consumes one segment's annotated frames
type Processor interface {
	ID() int64
	Kind() storage.ProcessorKind
	Config() storage.ProcessorConfig
	// Reconfigure applies an edited configuration without losing state
	// that is still valid under it.
	Reconfigure(cfg storage.ProcessorConfig)
	Process(ctx context.Context, fs []*frames.Frame) error
}

// Publisher forwards face presence messages to the relay
type Publisher interface {
	Publish(ctx context.Context, msg any) error
}

// Deps are the collaborators shared by all processors of one camera
type Deps struct {
	CameraID  int64
	Sink      storage.EventSink
	Publisher Publisher // optional
	Metrics   *metrics.Collector
	Logger    watchlog.Logger
}

// New builds the variant named by cfg.Kind
func New(cfg storage.ProcessorConfig, deps Deps) (Processor, error) {
	if deps.Logger == nil {
		deps.Logger = watchlog.L()
	}
	b := base{cfg: cfg, deps: deps}
	b.logger = deps.Logger.Named(string(cfg.Kind)).With(watchlog.Int64("processor_id", cfg.ID))

	switch cfg.Kind {
	case storage.KindTraffic:
		return &TrafficCounter{base: b}, nil
	case storage.KindObjects:
		return &ObjectsCounter{base: b}, nil
	case storage.KindFaces:
		return &FaceDetector{base: b}, nil
	default:
		return nil, fmt.Errorf("processor %d: unknown kind %q", cfg.ID, cfg.Kind)
	}
}

type base struct {
	cfg    storage.ProcessorConfig
	deps   Deps
	logger watchlog.Logger
}

func (b *base) ID() int64 { return b.cfg.ID }

func (b *base) Kind() storage.ProcessorKind { return b.cfg.Kind }

func (b *base) Config() storage.ProcessorConfig { return b.cfg }

func (b *base) Reconfigure(cfg storage.ProcessorConfig) { b.cfg = cfg }

// selected applies threshold, class filter and zones to a frame's objects.
// Configured classes replace defaultClasses.
func (b *base) selected(objs []frames.DetectedObject, defaultClasses []string) []frames.DetectedObject {
	classes := b.cfg.Classes
	if len(classes) == 0 {
		classes = defaultClasses
	}
	return b.selectClasses(objs, classes)
}

// selectClasses filters on exactly classes, ignoring the configured ones
func (b *base) selectClasses(objs []frames.DetectedObject, classes []string) []frames.DetectedObject {
	var out []frames.DetectedObject
	for _, o := range objs {
		if o.Score < b.cfg.Threshold {
			continue
		}
		if len(classes) > 0 && !slices.Contains(classes, o.Class) {
			continue
		}
		x, y := o.Center()
		if !InZones(b.cfg.Zones, x, y) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (b *base) emit(ctx context.Context, ts time.Time, value float64) error {
	if err := b.deps.Sink.AppendEvent(ctx, b.cfg.ID, ts, value); err != nil {
		return fmt.Errorf("processor %d: %w", b.cfg.ID, err)
	}
	b.deps.Metrics.EventWritten(string(b.cfg.Kind))
	return nil
}

// Set keeps processors alive across watcher iterations so stateful variants
// keep their state while their configuration is edited.
type Set struct {
	deps Deps
	byID map[int64]Processor
}

// NewSet creates an empty pool
func NewSet(deps Deps) *Set {
	return &Set{deps: deps, byID: make(map[int64]Processor)}
}

// Sync reconciles the pool with the freshly loaded configuration and returns
// the processors in configured order. Processors that cannot be built are
// reported in the error and left out; the rest are still returned.
func (s *Set) Sync(cfgs []storage.ProcessorConfig) ([]Processor, error) {
	var errs error
	seen := make(map[int64]bool, len(cfgs))
	out := make([]Processor, 0, len(cfgs))

	for _, cfg := range cfgs {
		seen[cfg.ID] = true
		if p, ok := s.byID[cfg.ID]; ok && p.Kind() == cfg.Kind {
			p.Reconfigure(cfg)
			out = append(out, p)
			continue
		}
		p, err := New(cfg, s.deps)
		if err != nil {
			errs = multierr.Append(errs, err)
			delete(s.byID, cfg.ID)
			continue
		}
		s.byID[cfg.ID] = p
		out = append(out, p)
	}

	for id := range s.byID {
		if !seen[id] {
			delete(s.byID, id)
		}
	}
	return out, errs
}

// Len reports how many processors are pooled
func (s *Set) Len() int { return len(s.byID) }
