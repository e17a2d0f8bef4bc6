package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProcessorKind tags the closed set of processor variants
type ProcessorKind string

const (
	KindTraffic ProcessorKind = "traffic"
	KindObjects ProcessorKind = "objects"
	KindFaces   ProcessorKind = "faces"
)

// Valid reports whether k is one of the known variants
func (k ProcessorKind) Valid() bool {
	switch k {
	case KindTraffic, KindObjects, KindFaces:
		return true
	}
	return false
}

// Camera is the watcher's working copy of a camera row
type Camera struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	StreamURL     string    `db:"stream_url" json:"stream_url"`
	WatchFPS      float64   `db:"watch_fps" json:"watch_fps"`
	GridRows      int       `db:"grid_rows" json:"grid_rows"`
	GridCols      int       `db:"grid_cols" json:"grid_cols"`
	TZOffsetHours float64   `db:"tz_offset_hours" json:"tz_offset_hours"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// TZOffset converts the stored hour offset to a duration
func (c *Camera) TZOffset() time.Duration {
	return time.Duration(c.TZOffsetHours * float64(time.Hour))
}

// Point is a normalized [0,1] image coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UnmarshalJSON accepts both {"x":..,"y":..} and [x, y].
func (p *Point) UnmarshalJSON(b []byte) error {
	var pair []float64
	if err := json.Unmarshal(b, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("point needs 2 coordinates, got %d", len(pair))
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}
	type plain Point
	var pp plain
	if err := json.Unmarshal(b, &pp); err != nil {
		return err
	}
	*p = Point(pp)
	return nil
}

// Polygon is a region of interest in normalized frame coordinates
type Polygon []Point

// ProcessorConfig is one configured processor of a camera
type ProcessorConfig struct {
	ID        int64         `json:"id"`
	CameraID  int64         `json:"camera_id"`
	Kind      ProcessorKind `json:"kind"`
	Enabled   bool          `json:"enabled"`
	Threshold float64       `json:"threshold"`
	Zones     []Polygon     `json:"zones,omitempty"`
	Classes   []string      `json:"classes,omitempty"`
	Preview   bool          `json:"preview"`
	Position  int           `json:"position"`
}

// processorRow is the on-disk shape; zones and classes are JSON text
type processorRow struct {
	ID        int64   `db:"id"`
	CameraID  int64   `db:"camera_id"`
	Kind      string  `db:"kind"`
	Enabled   bool    `db:"enabled"`
	Threshold float64 `db:"threshold"`
	Zones     string  `db:"zones"`
	Classes   string  `db:"classes"`
	Preview   bool    `db:"preview"`
	Position  int     `db:"position"`
}

func (r processorRow) toConfig() (ProcessorConfig, error) {
	pc := ProcessorConfig{
		ID:        r.ID,
		CameraID:  r.CameraID,
		Kind:      ProcessorKind(r.Kind),
		Enabled:   r.Enabled,
		Threshold: r.Threshold,
		Preview:   r.Preview,
		Position:  r.Position,
	}
	if r.Zones != "" {
		if err := json.Unmarshal([]byte(r.Zones), &pc.Zones); err != nil {
			return pc, fmt.Errorf("processor %d: %w: zones: %v", r.ID, ErrInvalidProcessor, err)
		}
	}
	if r.Classes != "" {
		if err := json.Unmarshal([]byte(r.Classes), &pc.Classes); err != nil {
			return pc, fmt.Errorf("processor %d: %w: classes: %v", r.ID, ErrInvalidProcessor, err)
		}
	}
	return pc, nil
}

func rowFromConfig(pc ProcessorConfig) (processorRow, error) {
	r := processorRow{
		ID:        pc.ID,
		CameraID:  pc.CameraID,
		Kind:      string(pc.Kind),
		Enabled:   pc.Enabled,
		Threshold: pc.Threshold,
		Preview:   pc.Preview,
		Position:  pc.Position,
	}
	if len(pc.Zones) > 0 {
		b, err := json.Marshal(pc.Zones)
		if err != nil {
			return r, fmt.Errorf("failed to marshal zones: %w", err)
		}
		r.Zones = string(b)
	}
	if len(pc.Classes) > 0 {
		b, err := json.Marshal(pc.Classes)
		if err != nil {
			return r, fmt.Errorf("failed to marshal classes: %w", err)
		}
		r.Classes = string(b)
	}
	return r, nil
}

// Event is one persisted metric sample
type Event struct {
	ID          int64     `db:"id" json:"id"`
	ProcessorID int64     `db:"processor_id" json:"processor_id"`
	Timestamp   time.Time `db:"ts" json:"ts"`
	Value       float64   `db:"value" json:"value"`
}

// TrafficSummary aggregates events over a time range
type TrafficSummary struct {
	Total float64    `json:"total"`
	Count int64      `json:"count"`
	MinTS *time.Time `json:"min_ts,omitempty"`
	MaxTS *time.Time `json:"max_ts,omitempty"`
}
