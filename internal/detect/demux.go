package detect

import (
	"fmt"
	"math"
	"strconv"

	"github.com/mikeyg42/hypersight/internal/frames"
)

// Remap converts a mosaic-normalized box owned by cell (row, col) into that
// frame's own [0,1] space. No clamping is applied.
func Remap(box [4]float64, g Grid, row, col int) [4]float64 {
	c, r := float64(g.Cols), float64(g.Rows)
	return [4]float64{
		box[0]*c - float64(col),
		box[1]*r - float64(row),
		box[2]*c - float64(col),
		box[3]*r - float64(row),
	}
}

// cellOf returns the cell whose half-open rectangle
// [col/C, (col+1)/C) x [row/R, (row+1)/R) contains (x, y). The right and
// bottom mosaic edges belong to the last column and row.
func cellOf(x, y float64, g Grid) (row, col int, ok bool) {
	if x < 0 || y < 0 || x > 1 || y > 1 || math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, false
	}
	col = min(int(math.Floor(x*float64(g.Cols))), g.Cols-1)
	row = min(int(math.Floor(y*float64(g.Rows))), g.Rows-1)
	return row, col, true
}

// Demux assigns each detection to the frame cell holding its top-left
// corner, drops detections in padding cells (index >= realCount) and remaps
// the rest into frame coordinates clipped to [0,1]. The result has
// realCount entries in row-major cell order.
func Demux(dets []RawDetection, g Grid, realCount int) [][]frames.DetectedObject {
	out := make([][]frames.DetectedObject, realCount)
	for _, d := range dets {
		row, col, ok := cellOf(d.Box[0], d.Box[1], g)
		if !ok {
			continue
		}
		idx := row*g.Cols + col
		if idx >= realCount {
			continue
		}
		box := Remap(d.Box, g, row, col)
		for i := range box {
			box[i] = clamp01(box[i])
		}
		out[idx] = append(out[idx], toObject(box, d.Extra))
	}
	return out
}

// toObject reads the conventional [score, class] tail and keeps the rest.
func toObject(box [4]float64, extra []any) frames.DetectedObject {
	obj := frames.DetectedObject{Box: box, Score: 1}
	if len(extra) > 0 {
		if s, ok := extra[0].(float64); ok {
			obj.Score = s
		}
	}
	if len(extra) > 1 {
		obj.Class = classLabel(extra[1])
	}
	if len(extra) > 2 {
		obj.Extra = append([]any(nil), extra[2:]...)
	}
	return obj
}

func classLabel(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case float64:
		if c == math.Trunc(c) {
			return strconv.FormatInt(int64(c), 10)
		}
		return strconv.FormatFloat(c, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(c)
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
