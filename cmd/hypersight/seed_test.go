package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mikeyg42/hypersight/internal/storage"
)

const sampleSeed = `
cameras:
  - id: 1
    name: lobby
    stream_url: http://cam1/index.m3u8
    watch_fps: 2
    grid_rows: 2
    grid_cols: 2
    tz_offset_hours: -5
    processors:
      - id: 10
        kind: traffic
        threshold: 0.4
        zones:
          - [[0, 0], [0.5, 0], [0.5, 1], [0, 1]]
        classes: [car, truck]
      - id: 11
        kind: objects
        enabled: false
        threshold: 0.6
  - id: 2
    stream_url: http://cam2/index.m3u8
`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestSeedApply(t *testing.T) {
	ctx := context.Background()
	seed, err := loadSeed(writeSeed(t, sampleSeed))
	if err != nil {
		t.Fatalf("loadSeed: %v", err)
	}

	store, err := storage.OpenSQLStore(ctx, storage.SQLConfig{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	cams, procs, err := seed.apply(ctx, store)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cams != 2 || procs != 2 {
		t.Fatalf("applied %d cameras, %d processors", cams, procs)
	}

	cam, err := store.GetCamera(ctx, 2)
	if err != nil {
		t.Fatalf("GetCamera: %v", err)
	}
	if cam.WatchFPS != 1 || cam.GridRows != 1 || cam.GridCols != 1 {
		t.Fatalf("camera 2 defaults = %+v", cam)
	}

	enabled, err := store.ListEnabledProcessors(ctx, 1)
	if err != nil {
		t.Fatalf("ListEnabledProcessors: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != 10 {
		t.Fatalf("enabled = %+v", enabled)
	}
	tr := enabled[0]
	if len(tr.Zones) != 1 || len(tr.Zones[0]) != 4 || tr.Zones[0][1] != (storage.Point{X: 0.5, Y: 0}) {
		t.Fatalf("zones = %+v", tr.Zones)
	}
	if len(tr.Classes) != 2 || tr.Classes[1] != "truck" {
		t.Fatalf("classes = %v", tr.Classes)
	}

	// re-applying upserts in place
	if _, _, err := seed.apply(ctx, store); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	all, err := store.ListCameras(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("cameras after reapply = %d, %v", len(all), err)
	}
}

func TestSeedValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown kind",
			body: "cameras:\n  - id: 1\n    stream_url: u\n    processors:\n      - {id: 5, kind: plates}\n",
			want: "unknown kind",
		},
		{
			name: "duplicate camera",
			body: "cameras:\n  - {id: 1, stream_url: u}\n  - {id: 1, stream_url: v}\n",
			want: "duplicate camera",
		},
		{
			name: "missing url",
			body: "cameras:\n  - {id: 3}\n",
			want: "stream_url",
		},
		{
			name: "classes on faces",
			body: "cameras:\n  - id: 1\n    stream_url: u\n    processors:\n      - {id: 5, kind: faces, classes: [person]}\n",
			want: "classes are not allowed",
		},
		{
			name: "degenerate zone",
			body: "cameras:\n  - id: 1\n    stream_url: u\n    processors:\n      - {id: 5, kind: traffic, zones: [[[0, 0], [1, 1]]]}\n",
			want: "at least 3 points",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadSeed(writeSeed(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}
