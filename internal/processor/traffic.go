package processor

import (
	"context"
	"slices"

	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// TrafficClasses are counted when a traffic processor has no class filter.
var TrafficClasses = []string{"car", "bus", "truck", "motorcycle", "bicycle"}

// TrafficCounter counts vehicles entering its zones. An entry is a rise in
// the in-zone vehicle count from one frame to the next; the last count is
// carried across invocations so segment boundaries do not double count.
type TrafficCounter struct {
	base
	last int
}

// Reconfigure resets the carried count when the counting region or classes
// change, since the old count no longer describes the new region.
func (t *TrafficCounter) Reconfigure(cfg storage.ProcessorConfig) {
	old := t.cfg
	t.base.Reconfigure(cfg)
	if !zonesEqual(old.Zones, cfg.Zones) || !slices.Equal(old.Classes, cfg.Classes) || old.Threshold != cfg.Threshold {
		t.last = 0
	}
}

// Process emits one event with the entries seen across fs, stamped with the
// last frame's timestamp.
func (t *TrafficCounter) Process(ctx context.Context, fs []*frames.Frame) error {
	if len(fs) == 0 {
		return nil
	}

	entries := 0
	for _, f := range fs {
		n := len(t.selected(f.Objects, TrafficClasses))
		if n > t.last {
			entries += n - t.last
		}
		t.last = n
	}

	ts := fs[len(fs)-1].Timestamp
	t.logger.Debug("Traffic counted",
		watchlog.Int("frames", len(fs)),
		watchlog.Int("entries", entries),
		watchlog.Time("ts", ts))
	return t.emit(ctx, ts, float64(entries))
}

func zonesEqual(a, b []storage.Polygon) bool {
	return slices.EqualFunc(a, b, func(x, y storage.Polygon) bool { return slices.Equal(x, y) })
}
