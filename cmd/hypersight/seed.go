package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mikeyg42/hypersight/internal/storage"
)

// seedFile is the init-db --seed document
type seedFile struct {
	Cameras []seedCamera `yaml:"cameras"`
}

type seedCamera struct {
	ID            int64           `yaml:"id"`
	Name          string          `yaml:"name"`
	StreamURL     string          `yaml:"stream_url"`
	WatchFPS      float64         `yaml:"watch_fps"`
	GridRows      int             `yaml:"grid_rows"`
	GridCols      int             `yaml:"grid_cols"`
	TZOffsetHours float64         `yaml:"tz_offset_hours"`
	Processors    []seedProcessor `yaml:"processors"`
}

type seedProcessor struct {
	ID        int64          `yaml:"id"`
	Kind      string         `yaml:"kind"`
	Enabled   *bool          `yaml:"enabled"`
	Threshold float64        `yaml:"threshold"`
	Zones     [][][2]float64 `yaml:"zones"`
	Classes   []string       `yaml:"classes"`
	Preview   bool           `yaml:"preview"`
}

func loadSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	if err := seed.validate(); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return &seed, nil
}

func (s *seedFile) validate() error {
	cams := make(map[int64]bool)
	procs := make(map[int64]bool)
	for _, c := range s.Cameras {
		if c.ID <= 0 {
			return fmt.Errorf("camera id must be positive, got %d", c.ID)
		}
		if cams[c.ID] {
			return fmt.Errorf("duplicate camera id %d", c.ID)
		}
		cams[c.ID] = true
		if c.StreamURL == "" {
			return fmt.Errorf("camera %d: stream_url is required", c.ID)
		}
		for _, p := range c.Processors {
			if p.ID <= 0 {
				return fmt.Errorf("camera %d: processor id must be positive, got %d", c.ID, p.ID)
			}
			if procs[p.ID] {
				return fmt.Errorf("duplicate processor id %d", p.ID)
			}
			procs[p.ID] = true
			if !storage.ProcessorKind(p.Kind).Valid() {
				return fmt.Errorf("processor %d: unknown kind %q", p.ID, p.Kind)
			}
			if storage.ProcessorKind(p.Kind) == storage.KindFaces && len(p.Classes) > 0 {
				return fmt.Errorf("processor %d: faces processors only count faces, classes are not allowed", p.ID)
			}
			for i, z := range p.Zones {
				if len(z) < 3 {
					return fmt.Errorf("processor %d: zone %d needs at least 3 points", p.ID, i)
				}
			}
		}
	}
	return nil
}

func (c seedCamera) camera() *storage.Camera {
	grid := func(n int) int {
		if n <= 0 {
			return 1
		}
		return n
	}
	fps := c.WatchFPS
	if fps <= 0 {
		fps = 1
	}
	return &storage.Camera{
		ID:            c.ID,
		Name:          c.Name,
		StreamURL:     c.StreamURL,
		WatchFPS:      fps,
		GridRows:      grid(c.GridRows),
		GridCols:      grid(c.GridCols),
		TZOffsetHours: c.TZOffsetHours,
	}
}

func (p seedProcessor) config(cameraID int64, position int) storage.ProcessorConfig {
	enabled := p.Enabled == nil || *p.Enabled
	zones := make([]storage.Polygon, 0, len(p.Zones))
	for _, z := range p.Zones {
		poly := make(storage.Polygon, len(z))
		for i, pt := range z {
			poly[i] = storage.Point{X: pt[0], Y: pt[1]}
		}
		zones = append(zones, poly)
	}
	return storage.ProcessorConfig{
		ID:        p.ID,
		CameraID:  cameraID,
		Kind:      storage.ProcessorKind(p.Kind),
		Enabled:   enabled,
		Threshold: p.Threshold,
		Zones:     zones,
		Classes:   p.Classes,
		Preview:   p.Preview,
		Position:  position,
	}
}

type seedStore interface {
	UpsertCamera(ctx context.Context, cam *storage.Camera) error
	UpsertProcessor(ctx context.Context, pc storage.ProcessorConfig) error
}

// apply upserts every camera, then its processors in file order
func (s *seedFile) apply(ctx context.Context, store seedStore) (cameras, processors int, err error) {
	for _, c := range s.Cameras {
		if err := store.UpsertCamera(ctx, c.camera()); err != nil {
			return cameras, processors, fmt.Errorf("camera %d: %w", c.ID, err)
		}
		cameras++
		for i, p := range c.Processors {
			if err := store.UpsertProcessor(ctx, p.config(c.ID, i)); err != nil {
				return cameras, processors, fmt.Errorf("processor %d: %w", p.ID, err)
			}
			processors++
		}
	}
	return cameras, processors, nil
}
