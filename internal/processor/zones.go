package processor

import "github.com/mikeyg42/hypersight/internal/storage"

// InZones reports whether (x, y) lies in any polygon. No zones means the
// whole frame.
func InZones(zones []storage.Polygon, x, y float64) bool {
	if len(zones) == 0 {
		return true
	}
	for _, z := range zones {
		if Contains(z, x, y) {
			return true
		}
	}
	return false
}

// Contains is an even-odd ray cast. Polygons with fewer than 3 points
// contain nothing.
func Contains(poly storage.Polygon, x, y float64) bool {
	if len(poly) < 3 {
		return false
	}
	inside := false
	j := len(poly) - 1
	for i := range poly {
		pi, pj := poly[i], poly[j]
		if (pi.Y > y) != (pj.Y > y) {
			xCross := pj.X + (y-pj.Y)*(pi.X-pj.X)/(pi.Y-pj.Y)
			if x < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
