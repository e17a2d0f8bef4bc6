package processor

import (
	"context"
	"time"

	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

var faceClasses = []string{"face"}

// Presence is the relay message sent for every frame with faces
type Presence struct {
	Type        string       `json:"type"`
	CameraID    int64        `json:"camera_id"`
	ProcessorID int64        `json:"processor_id"`
	Timestamp   time.Time    `json:"ts"`
	Faces       int          `json:"faces"`
	Boxes       [][4]float64 `json:"boxes"`
}

// FaceDetector records presence for frames with at least one face above
// threshold. Recognition is left to whoever listens on the relay. Only the
// face class counts, whatever classes are configured.
type FaceDetector struct {
	base
}

func (d *FaceDetector) Process(ctx context.Context, fs []*frames.Frame) error {
	for _, f := range fs {
		faces := d.selectClasses(f.Objects, faceClasses)
		if len(faces) == 0 {
			continue
		}
		if err := d.emit(ctx, f.Timestamp, float64(len(faces))); err != nil {
			return err
		}

		if d.deps.Publisher == nil {
			continue
		}
		msg := Presence{
			Type:        "presence",
			CameraID:    d.deps.CameraID,
			ProcessorID: d.cfg.ID,
			Timestamp:   f.Timestamp,
			Faces:       len(faces),
		}
		for _, face := range faces {
			msg.Boxes = append(msg.Boxes, face.Box)
		}
		// the relay is best effort; events are already persisted
		if err := d.deps.Publisher.Publish(ctx, msg); err != nil {
			d.logger.Warn("Failed to publish presence", watchlog.Error(err))
		}
	}
	return nil
}
