package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore(context.Background(), SQLConfig{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCameraLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cam := &Camera{ID: 3, Name: "gate", StreamURL: "http://cam/index.m3u8", WatchFPS: 1, GridRows: 2, GridCols: 3, TZOffsetHours: 2}
	if err := s.UpsertCamera(ctx, cam); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetCamera(ctx, 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StreamURL != cam.StreamURL || got.GridRows != 2 || got.GridCols != 3 {
		t.Fatalf("unexpected camera %+v", got)
	}
	if got.TZOffset() != 2*time.Hour {
		t.Fatalf("tz offset = %s", got.TZOffset())
	}

	cam.WatchFPS = 2
	if err := s.UpsertCamera(ctx, cam); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	cams, err := s.ListCameras(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cams) != 1 || cams[0].WatchFPS != 2 {
		t.Fatalf("unexpected cameras %+v", cams)
	}

	if err := s.DeleteCamera(ctx, 3); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = s.GetCamera(ctx, 3)
	if !errors.Is(err, ErrNotFound) || !IsNotExist(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEnabledProcessorsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.UpsertCamera(ctx, &Camera{ID: 1, StreamURL: "http://cam", WatchFPS: 1, GridRows: 1, GridCols: 1}); err != nil {
		t.Fatalf("upsert camera: %v", err)
	}

	procs := []ProcessorConfig{
		{ID: 10, CameraID: 1, Kind: KindFaces, Enabled: true, Threshold: 0.6, Position: 2},
		{ID: 11, CameraID: 1, Kind: KindTraffic, Enabled: true, Threshold: 0.4, Position: 0,
			Zones: []Polygon{{{0, 0}, {1, 0}, {1, 1}}}},
		{ID: 12, CameraID: 1, Kind: KindObjects, Enabled: false, Threshold: 0.5, Position: 1},
		{ID: 13, CameraID: 1, Kind: KindObjects, Enabled: true, Threshold: 0.5, Position: 1,
			Classes: []string{"person"}},
	}
	for _, p := range procs {
		if err := s.UpsertProcessor(ctx, p); err != nil {
			t.Fatalf("upsert processor %d: %v", p.ID, err)
		}
	}

	got, err := s.ListEnabledProcessors(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []int64
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	if len(ids) != 3 || ids[0] != 11 || ids[1] != 13 || ids[2] != 10 {
		t.Fatalf("unexpected order %v", ids)
	}
	if len(got[0].Zones) != 1 || len(got[0].Zones[0]) != 3 || got[0].Zones[0][1].X != 1 {
		t.Fatalf("zones not restored: %+v", got[0].Zones)
	}
	if len(got[1].Classes) != 1 || got[1].Classes[0] != "person" {
		t.Fatalf("classes not restored: %+v", got[1].Classes)
	}

	disabled, err := s.GetProcessor(ctx, 12)
	if err != nil {
		t.Fatalf("get disabled processor: %v", err)
	}
	if disabled.Enabled || disabled.Kind != KindObjects {
		t.Fatalf("unexpected processor %+v", disabled)
	}
	if _, err := s.GetProcessor(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEnabledProcessorsSkipsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.UpsertCamera(ctx, &Camera{ID: 1, StreamURL: "http://cam", WatchFPS: 1, GridRows: 1, GridCols: 1}); err != nil {
		t.Fatalf("upsert camera: %v", err)
	}
	for _, p := range []ProcessorConfig{
		{ID: 1, CameraID: 1, Kind: KindObjects, Enabled: true, Threshold: 0.5},
		{ID: 2, CameraID: 1, Kind: KindTraffic, Enabled: true, Threshold: 0.5, Position: 1},
		{ID: 3, CameraID: 1, Kind: KindFaces, Enabled: true, Threshold: 0.5, Position: 2},
	} {
		if err := s.UpsertProcessor(ctx, p); err != nil {
			t.Fatalf("upsert processor %d: %v", p.ID, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE processors SET zones = 'not json' WHERE id = 2`); err != nil {
		t.Fatalf("corrupt zones: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE processors SET classes = '{' WHERE id = 3`); err != nil {
		t.Fatalf("corrupt classes: %v", err)
	}

	got, err := s.ListEnabledProcessors(ctx, 1)
	if !errors.Is(err, ErrInvalidProcessor) {
		t.Fatalf("expected ErrInvalidProcessor, got %v", err)
	}
	if !strings.Contains(err.Error(), "processor 2") || !strings.Contains(err.Error(), "processor 3") {
		t.Fatalf("both bad rows should be reported: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("valid processors = %+v", got)
	}
}

func TestUpsertProcessorRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name string
		pc   ProcessorConfig
	}{
		{name: "unknown kind", pc: ProcessorConfig{ID: 1, CameraID: 1, Kind: "plates", Threshold: 0.5}},
		{name: "threshold above one", pc: ProcessorConfig{ID: 1, CameraID: 1, Kind: KindObjects, Threshold: 1.5}},
		{name: "negative threshold", pc: ProcessorConfig{ID: 1, CameraID: 1, Kind: KindObjects, Threshold: -0.1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.UpsertProcessor(ctx, tc.pc); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestTrafficSumHalfOpenRange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []float64{1, 2, 3, 4} {
		if err := s.AppendEvent(ctx, 7, base.Add(time.Duration(i)*time.Minute), v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// other processor must not leak in
	if err := s.AppendEvent(ctx, 8, base.Add(time.Minute), 100); err != nil {
		t.Fatalf("append: %v", err)
	}

	sum, err := s.TrafficSum(ctx, 7, base, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	// (12:00, 12:02] holds the 12:01 and 12:02 events
	if sum.Total != 5 || sum.Count != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.MinTS == nil || !sum.MinTS.Equal(base.Add(time.Minute)) {
		t.Fatalf("min ts = %v", sum.MinTS)
	}
	if sum.MaxTS == nil || !sum.MaxTS.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("max ts = %v", sum.MaxTS)
	}

	empty, err := s.TrafficSum(ctx, 7, base.Add(time.Hour), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("empty sum: %v", err)
	}
	if empty.Total != 0 || empty.Count != 0 || empty.MinTS != nil {
		t.Fatalf("unexpected empty summary %+v", empty)
	}
}

func TestLatestEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []float64{5, 6, 7} {
		if err := s.AppendEvent(ctx, 2, base.Add(time.Duration(i)*time.Second), v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	ev, err := s.LatestEvent(ctx, 2, base.Add(1500*time.Millisecond))
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if ev.Value != 6 || !ev.Timestamp.Equal(base.Add(time.Second)) {
		t.Fatalf("unexpected event %+v", ev)
	}

	if _, err := s.LatestEvent(ctx, 2, base.Add(-time.Second)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendEventStoresUTC(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loc := time.FixedZone("UTC+3", 3*3600)
	local := time.Date(2024, 5, 1, 15, 0, 0, 0, loc)
	if err := s.AppendEvent(ctx, 1, local, 1); err != nil {
		t.Fatalf("append: %v", err)
	}
	ev, err := s.LatestEvent(ctx, 1, local)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !ev.Timestamp.Equal(local) {
		t.Fatalf("timestamp %v != %v", ev.Timestamp, local)
	}
}
