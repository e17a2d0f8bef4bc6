package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

var boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}

// Previewer uploads the last annotated frame of a segment so operators can
// see what a processor is looking at.
type Previewer struct {
	store  storage.ObjectStore
	logger watchlog.Logger
}

// NewPreviewer writes previews to store
func NewPreviewer(store storage.ObjectStore, logger watchlog.Logger) *Previewer {
	if logger == nil {
		logger = watchlog.L()
	}
	return &Previewer{store: store, logger: logger.Named("preview")}
}

// PreviewKey is where the latest preview of a processor lives
func PreviewKey(cameraID, processorID int64) string {
	return fmt.Sprintf("previews/%d/%d/latest.jpg", cameraID, processorID)
}

// Publish is best effort: failures are logged and never reach the watcher.
func (p *Previewer) Publish(ctx context.Context, cfg storage.ProcessorConfig, f *frames.Frame) {
	jpeg, err := Render(f, cfg.Threshold)
	if err != nil {
		p.logger.Warn("Failed to render preview", watchlog.Int64("processor_id", cfg.ID), watchlog.Error(err))
		return
	}

	key := PreviewKey(cfg.CameraID, cfg.ID)
	err = p.store.Put(ctx, key, bytes.NewReader(jpeg), int64(len(jpeg)),
		storage.WithContentType("image/jpeg"),
		storage.WithCacheControl("no-cache"),
		storage.WithMetadata(map[string]string{
			"frame-ts": f.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			"kind":     string(cfg.Kind),
		}))
	if err != nil {
		p.logger.Warn("Failed to upload preview", watchlog.String("key", key), watchlog.Error(err))
	}
}

// Render draws every object scoring at least threshold and encodes a JPEG.
func Render(f *frames.Frame, threshold float64) ([]byte, error) {
	if f == nil || f.Image.Empty() {
		return nil, fmt.Errorf("no image to render")
	}
	img := f.Image.Clone()
	defer img.Close()

	w, h := float64(img.Cols()), float64(img.Rows())
	for _, o := range f.Objects {
		if o.Score < threshold {
			continue
		}
		rect := image.Rect(int(o.Box[0]*w), int(o.Box[1]*h), int(o.Box[2]*w), int(o.Box[3]*h))
		if err := gocv.Rectangle(&img, rect, boxColor, 2); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %w", err)
		}
		label := o.Class
		if label == "" {
			label = "?"
		}
		label += " " + strconv.FormatFloat(o.Score, 'f', 2, 64)
		if err := gocv.PutText(&img, label, image.Pt(rect.Min.X, max(rect.Min.Y-4, 10)), gocv.FontHersheySimplex, 0.4, boxColor, 1); err != nil {
			return nil, fmt.Errorf("failed to draw label: %w", err)
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
