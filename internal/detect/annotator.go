package detect

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// Annotator runs the batch -> mosaic -> detect -> demux chain for one segment
type Annotator struct {
	detector Detector
	logger   watchlog.Logger
}

// NewAnnotator wraps a Detector
func NewAnnotator(detector Detector, logger watchlog.Logger) *Annotator {
	if logger == nil {
		logger = watchlog.L()
	}
	return &Annotator{detector: detector, logger: logger.Named("annotator")}
}

// Annotate fills Objects on every frame. Results are assigned only after all
// requests succeed, so a failed segment leaves the frames untouched.
func (a *Annotator) Annotate(ctx context.Context, fs []*frames.Frame, g Grid) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if len(fs) == 0 {
		return nil
	}

	results := make([][]frames.DetectedObject, len(fs))
	for _, b := range Partition(len(fs), g) {
		if err := ctx.Err(); err != nil {
			return err
		}

		jpeg, err := encodeBatch(fs[b.Start:b.Start+b.Len], b.Padding, g)
		if err != nil {
			return err
		}

		dets, err := a.detector.Detect(ctx, jpeg)
		if err != nil {
			return fmt.Errorf("detect batch at frame %d: %w", b.Start, err)
		}

		for i, objs := range Demux(dets, g, b.Len) {
			results[b.Start+i] = objs
		}
		a.logger.Debug("Batch detected",
			watchlog.Int("start", b.Start),
			watchlog.Int("frames", b.Len),
			watchlog.Int("padding", b.Padding),
			watchlog.Int("detections", len(dets)))
	}

	for i, f := range fs {
		f.Objects = results[i]
	}
	return nil
}

func encodeBatch(fs []*frames.Frame, padding int, g Grid) ([]byte, error) {
	images := make([]gocv.Mat, 0, len(fs)+padding)
	for _, f := range fs {
		images = append(images, f.Image)
	}
	blanks := make([]gocv.Mat, 0, padding)
	defer func() {
		for _, m := range blanks {
			m.Close()
		}
	}()
	for i := 0; i < padding; i++ {
		blank := Blank(fs[0].Image)
		blanks = append(blanks, blank)
		images = append(images, blank)
	}

	mosaic, err := Mosaic(images, g)
	if err != nil {
		return nil, err
	}
	defer mosaic.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mosaic)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mosaic: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
