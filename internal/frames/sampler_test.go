package frames

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/hypersight/internal/watchlog"
)

func TestStep(t *testing.T) {
	tests := []struct {
		name      string
		frameRate float64
		target    float64
		want      int
	}{
		{name: "25fps to 1fps", frameRate: 25, target: 1, want: 25},
		{name: "30fps to 4fps rounds", frameRate: 30, target: 4, want: 8},
		{name: "29.97fps to 10fps", frameRate: 29.97, target: 10, want: 3},
		{name: "target above source", frameRate: 10, target: 30, want: 1},
		{name: "unknown target", frameRate: 25, target: 0, want: 1},
		{name: "unknown source", frameRate: 0, target: 1, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Step(tc.frameRate, tc.target); got != tc.want {
				t.Fatalf("Step(%v, %v) = %d, want %d", tc.frameRate, tc.target, got, tc.want)
			}
		})
	}
}

// writeClip encodes n solid 64x48 frames at 25fps into an MJPG avi
func writeClip(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.avi")
	w, err := gocv.VideoWriterFile(path, "MJPG", 25, 64, 48, true)
	if err != nil {
		t.Fatalf("VideoWriterFile: %v", err)
	}
	img := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer img.Close()
	for i := 0; i < n; i++ {
		img.SetTo(gocv.NewScalar(float64(i*4%256), 80, 160, 0))
		if err := w.Write(img); err != nil {
			w.Close()
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return path
}

func TestSampleDecodesAndKeepsEveryStepFrame(t *testing.T) {
	path := writeClip(t, 60)
	anchor := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		frameRate float64
	}{
		{name: "manifest rate", frameRate: 25},
		{name: "decoder rate fallback", frameRate: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs, err := NewSampler(watchlog.Nop()).Sample(context.Background(), path, SampleOptions{
				FrameRate: tc.frameRate,
				TargetFPS: 1,
				Anchor:    anchor,
				TZOffset:  2 * time.Hour,
			})
			if err != nil {
				t.Fatalf("Sample: %v", err)
			}
			defer CloseAll(fs)

			want := []int{0, 25, 50}
			if len(fs) != len(want) {
				t.Fatalf("kept %d frames, want %d", len(fs), len(want))
			}
			var prev time.Time
			for i, f := range fs {
				if f.Index != want[i] {
					t.Fatalf("frame %d has index %d, want %d", i, f.Index, want[i])
				}
				wantTS := anchor.Add(time.Duration(i)*time.Second + 2*time.Hour)
				if !f.Timestamp.Equal(wantTS) {
					t.Fatalf("index %d timestamp %v, want %v", f.Index, f.Timestamp, wantTS)
				}
				if i > 0 && !f.Timestamp.After(prev) {
					t.Fatalf("timestamps not strictly increasing at %d", f.Index)
				}
				prev = f.Timestamp
				if f.Image.Empty() || f.Image.Cols() != 64 || f.Image.Rows() != 48 {
					t.Fatalf("index %d image %dx%d", f.Index, f.Image.Cols(), f.Image.Rows())
				}
			}
		})
	}
}

func TestSampleEmptyClip(t *testing.T) {
	path := writeClip(t, 0)
	fs, err := NewSampler(watchlog.Nop()).Sample(context.Background(), path, SampleOptions{FrameRate: 25, TargetFPS: 1})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if fs == nil || len(fs) != 0 {
		t.Fatalf("expected an empty non-nil slice, got %v", fs)
	}
}

func TestSampleCancelled(t *testing.T) {
	path := writeClip(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fs, err := NewSampler(watchlog.Nop()).Sample(ctx, path, SampleOptions{FrameRate: 25, TargetFPS: 25})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fs != nil {
		t.Fatalf("cancelled sample returned %d frames", len(fs))
	}
}

func TestSampleMissingFile(t *testing.T) {
	_, err := NewSampler(watchlog.Nop()).Sample(context.Background(), filepath.Join(t.TempDir(), "absent.ts"), SampleOptions{FrameRate: 25, TargetFPS: 1})
	if err == nil {
		t.Fatal("expected an error for a missing segment")
	}
}

func TestTimestampFractionalRate(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := Timestamp(anchor, 3, 30, 0)
	if got.Sub(anchor) != 100*time.Millisecond {
		t.Fatalf("offset = %s", got.Sub(anchor))
	}
}

func TestCenter(t *testing.T) {
	o := DetectedObject{Box: [4]float64{0.2, 0.4, 0.6, 0.8}}
	x, y := o.Center()
	if x < 0.399 || x > 0.401 || y < 0.599 || y > 0.601 {
		t.Fatalf("center = (%v, %v)", x, y)
	}
}
