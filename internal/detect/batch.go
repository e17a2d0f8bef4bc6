// Package detect tiles sampled frames into grid mosaics, sends them to the
// external object detector and maps detections back onto their frames.
package detect

import (
	"errors"
	"fmt"
)

var (
	// ErrGridMismatch means a mosaic was requested with the wrong number of
	// images. It is a programming error, not a transient one.
	ErrGridMismatch = errors.New("image count does not match grid size")
	// ErrInvalidGrid rejects grids with a non-positive dimension.
	ErrInvalidGrid = errors.New("invalid grid")
)

// Grid is the R x C mosaic layout used for every detector request of a camera
type Grid struct {
	Rows int
	Cols int
}

// Size is the batch size, rows * cols
func (g Grid) Size() int { return g.Rows * g.Cols }

// Validate rejects non-positive dimensions
func (g Grid) Validate() error {
	if g.Rows < 1 || g.Cols < 1 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGrid, g.Rows, g.Cols)
	}
	return nil
}

// Batch is a window [Start, Start+Len) into the frame list. Padding blank
// cells complete the mosaic.
type Batch struct {
	Start   int
	Len     int
	Padding int
}

// Partition splits n frames into ordered batches of g.Size(). Only the last
// batch may carry padding.
func Partition(n int, g Grid) []Batch {
	size := g.Size()
	if n <= 0 || size <= 0 {
		return nil
	}
	batches := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		l := min(size, n-start)
		batches = append(batches, Batch{Start: start, Len: l, Padding: size - l})
	}
	return batches
}
