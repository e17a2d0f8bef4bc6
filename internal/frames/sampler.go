package frames

import (
	"context"
	"fmt"
	"math"
	"time"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// SampleOptions describes how to pick frames out of one segment
type SampleOptions struct {
	// FrameRate of the source; 0 falls back to what the decoder reports.
	FrameRate float64
	TargetFPS float64
	Anchor    time.Time
	TZOffset  time.Duration
}

// Step is the stride between kept frames, never below 1.
func Step(frameRate, targetFPS float64) int {
	if frameRate <= 0 || targetFPS <= 0 {
		return 1
	}
	s := int(math.Round(frameRate / targetFPS))
	if s < 1 {
		return 1
	}
	return s
}

// Timestamp is anchor + index/frameRate + tzOffset.
func Timestamp(anchor time.Time, index int, frameRate float64, tzOffset time.Duration) time.Time {
	offset := time.Duration(float64(index) / frameRate * float64(time.Second))
	return anchor.Add(offset + tzOffset)
}

// Sampler decodes segment files with OpenCV
type Sampler struct {
	logger watchlog.Logger
}

// NewSampler returns a Sampler
func NewSampler(logger watchlog.Logger) *Sampler {
	if logger == nil {
		logger = watchlog.L()
	}
	return &Sampler{logger: logger.Named("sampler")}
}

// Sample decodes path sequentially and keeps every Step-th frame. A segment
// with no decodable frames yields an empty slice. On cancellation every frame
// decoded so far is released.
func (s *Sampler) Sample(ctx context.Context, path string, opts SampleOptions) ([]*Frame, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", path, err)
	}
	defer capture.Close()

	frameRate := opts.FrameRate
	if frameRate <= 0 {
		frameRate = capture.Get(gocv.VideoCaptureFPS)
	}
	if frameRate <= 0 || math.IsNaN(frameRate) {
		return nil, fmt.Errorf("segment %s: unknown frame rate", path)
	}
	step := Step(frameRate, opts.TargetFPS)

	out := []*Frame{}
	img := gocv.NewMat()
	defer img.Close()

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			CloseAll(out)
			return nil, err
		}
		if ok := capture.Read(&img); !ok || img.Empty() {
			break
		}
		if index%step != 0 {
			continue
		}
		out = append(out, &Frame{
			Index:     index,
			Timestamp: Timestamp(opts.Anchor, index, frameRate, opts.TZOffset),
			Image:     img.Clone(),
		})
	}

	s.logger.Debug("Segment sampled",
		watchlog.String("path", path),
		watchlog.Float64("frame_rate", frameRate),
		watchlog.Int("step", step),
		watchlog.Int("frames", len(out)))
	return out, nil
}
