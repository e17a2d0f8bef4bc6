package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// ErrNoFrame is returned when the camera could not be opened or sent nothing.
var ErrNoFrame = errors.New("camera does not respond")

// Snapshot is a single grabbed frame stored as JPEG
type Snapshot struct {
	Key    string
	Width  int
	Height int
}

// Grabber reads one frame straight from a camera's stream, e.g. so zones can
// be drawn over it.
type Grabber struct {
	store  storage.ObjectStore
	logger watchlog.Logger
}

func NewGrabber(store storage.ObjectStore, logger watchlog.Logger) *Grabber {
	if logger == nil {
		logger = watchlog.L()
	}
	return &Grabber{store: store, logger: logger.Named("grabber")}
}

// SnapshotKey names a grabbed frame; every grab gets a fresh key.
func SnapshotKey(cameraID int64) string {
	return fmt.Sprintf("frames/%d/%s.jpg", cameraID, uuid.NewString())
}

// Grab opens streamURL, reads its first frame and uploads it. A numeric
// streamURL selects a local capture device.
func (g *Grabber) Grab(ctx context.Context, cameraID int64, streamURL string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	capture, err := openCapture(streamURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	img := gocv.NewMat()
	defer img.Close()
	ok := capture.Read(&img)
	capture.Close()
	if !ok || img.Empty() {
		return nil, ErrNoFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()
	jpeg := buf.GetBytes()

	snap := &Snapshot{Key: SnapshotKey(cameraID), Width: img.Cols(), Height: img.Rows()}
	err = g.store.Put(ctx, snap.Key, bytes.NewReader(jpeg), int64(len(jpeg)),
		storage.WithContentType("image/jpeg"))
	if err != nil {
		return nil, fmt.Errorf("failed to store frame: %w", err)
	}

	g.logger.Debug("Frame grabbed",
		watchlog.Int64("camera_id", cameraID),
		watchlog.String("key", snap.Key),
		watchlog.Int("width", snap.Width),
		watchlog.Int("height", snap.Height))
	return snap, nil
}

func openCapture(streamURL string) (*gocv.VideoCapture, error) {
	if id, err := strconv.Atoi(streamURL); err == nil {
		return gocv.VideoCaptureDevice(id)
	}
	return gocv.VideoCaptureFile(streamURL)
}
