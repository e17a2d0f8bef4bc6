package processor

import (
	"context"

	"github.com/mikeyg42/hypersight/internal/frames"
)

// ObjectsCounter emits a per-frame snapshot of how many matching objects sit
// inside its regions of interest.
type ObjectsCounter struct {
	base
}

func (o *ObjectsCounter) Process(ctx context.Context, fs []*frames.Frame) error {
	for _, f := range fs {
		n := len(o.selected(f.Objects, nil))
		if err := o.emit(ctx, f.Timestamp, float64(n)); err != nil {
			return err
		}
	}
	return nil
}
