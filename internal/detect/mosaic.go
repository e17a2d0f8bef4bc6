package detect

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Mosaic tiles images row-major: each row is the horizontal concatenation of
// g.Cols images, rows are then stacked vertically. All images must share size
// and type. The caller owns the returned Mat.
func Mosaic(images []gocv.Mat, g Grid) (gocv.Mat, error) {
	if err := g.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	if len(images) != g.Size() {
		return gocv.NewMat(), fmt.Errorf("%w: %d images for %dx%d", ErrGridMismatch, len(images), g.Rows, g.Cols)
	}

	rows := make([]gocv.Mat, 0, g.Rows)
	defer func() {
		for _, r := range rows {
			r.Close()
		}
	}()

	for r := 0; r < g.Rows; r++ {
		row := images[r*g.Cols].Clone()
		for c := 1; c < g.Cols; c++ {
			next := gocv.NewMat()
			gocv.Hconcat(row, images[r*g.Cols+c], &next)
			row.Close()
			row = next
		}
		rows = append(rows, row)
	}

	out := rows[0].Clone()
	for _, row := range rows[1:] {
		next := gocv.NewMat()
		gocv.Vconcat(out, row, &next)
		out.Close()
		out = next
	}
	return out, nil
}

// Blank returns an all-zero image with the size and type of like
func Blank(like gocv.Mat) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), like.Rows(), like.Cols(), like.Type())
}
