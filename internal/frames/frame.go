// Package frames decodes downloaded segments and samples frames at a
// camera's watch rate.
package frames

import (
	"time"

	"gocv.io/x/gocv"
)

// DetectedObject is one detection in frame-relative normalized coordinates
type DetectedObject struct {
	// Box is [x_min, y_min, x_max, y_max]
	Box   [4]float64
	Score float64
	Class string
	// Extra holds any fields the detector returned after score and class.
	Extra []any
}

// Center returns the midpoint of the box
func (o DetectedObject) Center() (x, y float64) {
	return (o.Box[0] + o.Box[2]) / 2, (o.Box[1] + o.Box[3]) / 2
}

// Frame is a sampled image owned by a single watcher iteration
type Frame struct {
	Index     int
	Timestamp time.Time
	Image     gocv.Mat
	Objects   []DetectedObject
}

// Close releases the image buffer
func (f *Frame) Close() error {
	if f == nil {
		return nil
	}
	return f.Image.Close()
}

// CloseAll releases every frame in fs
func CloseAll(fs []*Frame) {
	for _, f := range fs {
		f.Close()
	}
}
