package processor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/hypersight/internal/config"
	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/storage"
)

type recordedEvent struct {
	processorID int64
	ts          time.Time
	value       float64
}

type memorySink struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (m *memorySink) AppendEvent(ctx context.Context, processorID int64, ts time.Time, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, recordedEvent{processorID, ts, value})
	return nil
}

type memoryPublisher struct {
	msgs []any
}

func (m *memoryPublisher) Publish(ctx context.Context, msg any) error {
	m.msgs = append(m.msgs, msg)
	return nil
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func frameWith(i int, objs ...frames.DetectedObject) *frames.Frame {
	return &frames.Frame{Index: i, Timestamp: t0.Add(time.Duration(i) * time.Second), Objects: objs}
}

func obj(class string, score, x, y float64) frames.DetectedObject {
	return frames.DetectedObject{Box: [4]float64{x - 0.05, y - 0.05, x + 0.05, y + 0.05}, Score: score, Class: class}
}

var leftHalf = storage.Polygon{{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 0.5, Y: 1}, {X: 0, Y: 1}}

func TestContains(t *testing.T) {
	triangle := storage.Polygon{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}
	tests := []struct {
		name string
		poly storage.Polygon
		x, y float64
		want bool
	}{
		{name: "inside square", poly: leftHalf, x: 0.25, y: 0.5, want: true},
		{name: "outside square", poly: leftHalf, x: 0.75, y: 0.5, want: false},
		{name: "inside triangle", poly: triangle, x: 0.2, y: 0.2, want: true},
		{name: "beyond hypotenuse", poly: triangle, x: 0.6, y: 0.6, want: false},
		{name: "degenerate", poly: storage.Polygon{{X: 0, Y: 0}, {X: 1, Y: 1}}, x: 0.5, y: 0.5, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Contains(tc.poly, tc.x, tc.y); got != tc.want {
				t.Fatalf("Contains(%v, %v) = %v, want %v", tc.x, tc.y, got, tc.want)
			}
		})
	}
	if !InZones(nil, 0.9, 0.9) {
		t.Fatal("no zones should mean the whole frame")
	}
}

func TestObjectsCounterPerFrame(t *testing.T) {
	sink := &memorySink{}
	p, err := New(storage.ProcessorConfig{ID: 5, Kind: storage.KindObjects, Threshold: 0.5, Zones: []storage.Polygon{leftHalf}},
		Deps{Sink: sink})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fs := []*frames.Frame{
		frameWith(0, obj("person", 0.9, 0.2, 0.5), obj("car", 0.8, 0.3, 0.3)),
		frameWith(1, obj("person", 0.4, 0.2, 0.5), obj("person", 0.9, 0.8, 0.5)),
		frameWith(2),
	}
	if err := p.Process(context.Background(), fs); err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := []float64{2, 0, 0}
	if len(sink.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(sink.events))
	}
	for i, ev := range sink.events {
		if ev.value != want[i] || !ev.ts.Equal(fs[i].Timestamp) || ev.processorID != 5 {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
}

func TestTrafficCounterCarriesStateAcrossSegments(t *testing.T) {
	sink := &memorySink{}
	p, _ := New(storage.ProcessorConfig{ID: 9, Kind: storage.KindTraffic, Threshold: 0.5}, Deps{Sink: sink})

	seg1 := []*frames.Frame{
		frameWith(0, obj("car", 0.9, 0.1, 0.1)),
		frameWith(1, obj("car", 0.9, 0.1, 0.1), obj("bus", 0.9, 0.5, 0.5)),
		// people are not traffic
		frameWith(2, obj("car", 0.9, 0.1, 0.1), obj("bus", 0.9, 0.5, 0.5), obj("person", 0.9, 0.7, 0.7)),
	}
	seg2 := []*frames.Frame{
		frameWith(3, obj("car", 0.9, 0.1, 0.1), obj("bus", 0.9, 0.5, 0.5)),
		frameWith(4, obj("truck", 0.9, 0.3, 0.3)),
		frameWith(5, obj("truck", 0.9, 0.3, 0.3), obj("car", 0.9, 0.6, 0.6), obj("car", 0.2, 0.8, 0.8)),
	}

	ctx := context.Background()
	if err := p.Process(ctx, seg1); err != nil {
		t.Fatalf("seg1: %v", err)
	}
	if err := p.Process(ctx, seg2); err != nil {
		t.Fatalf("seg2: %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("expected one event per invocation, got %d", len(sink.events))
	}
	if sink.events[0].value != 2 || !sink.events[0].ts.Equal(seg1[2].Timestamp) {
		t.Fatalf("seg1 event = %+v", sink.events[0])
	}
	// the two vehicles still visible at the start of seg2 are not new
	if sink.events[1].value != 1 || !sink.events[1].ts.Equal(seg2[2].Timestamp) {
		t.Fatalf("seg2 event = %+v", sink.events[1])
	}

	if err := p.Process(ctx, nil); err != nil || len(sink.events) != 2 {
		t.Fatalf("empty batch should emit nothing")
	}
}

func TestFaceDetectorPublishesPresence(t *testing.T) {
	sink := &memorySink{}
	pub := &memoryPublisher{}
	p, _ := New(storage.ProcessorConfig{ID: 3, Kind: storage.KindFaces, Threshold: 0.7},
		Deps{CameraID: 11, Sink: sink, Publisher: pub})

	fs := []*frames.Frame{
		frameWith(0, obj("face", 0.9, 0.2, 0.2), obj("face", 0.95, 0.6, 0.2)),
		frameWith(1, obj("face", 0.5, 0.2, 0.2)),
		frameWith(2, obj("person", 0.99, 0.2, 0.2)),
		frameWith(3, obj("face", 0.8, 0.4, 0.4)),
	}
	if err := p.Process(context.Background(), fs); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(sink.events) != 2 || sink.events[0].value != 2 || sink.events[1].value != 1 {
		t.Fatalf("unexpected events %+v", sink.events)
	}
	if len(pub.msgs) != 2 {
		t.Fatalf("expected 2 presence messages, got %d", len(pub.msgs))
	}
	msg := pub.msgs[0].(Presence)
	if msg.CameraID != 11 || msg.ProcessorID != 3 || msg.Faces != 2 || len(msg.Boxes) != 2 {
		t.Fatalf("unexpected presence %+v", msg)
	}
}

func TestFaceDetectorIgnoresConfiguredClasses(t *testing.T) {
	sink := &memorySink{}
	p, _ := New(storage.ProcessorConfig{ID: 3, Kind: storage.KindFaces, Threshold: 0.5, Classes: []string{"person"}},
		Deps{Sink: sink})

	fs := []*frames.Frame{
		frameWith(0, obj("person", 0.9, 0.2, 0.2)),
		frameWith(1, obj("face", 0.9, 0.2, 0.2)),
	}
	if err := p.Process(context.Background(), fs); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].value != 1 || !sink.events[0].ts.Equal(fs[1].Timestamp) {
		t.Fatalf("only the face frame should count, got %+v", sink.events)
	}
}

type scriptedProcessor struct {
	base
	calls *[]int64
	err   error
}

func (s *scriptedProcessor) Process(ctx context.Context, fs []*frames.Frame) error {
	*s.calls = append(*s.calls, s.cfg.ID)
	return s.err
}

func scripted(id int64, calls *[]int64, err error) Processor {
	return &scriptedProcessor{base: base{cfg: storage.ProcessorConfig{ID: id, Kind: storage.KindObjects}}, calls: calls, err: err}
}

func TestRunnerPolicies(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name        string
		policy      string
		wantCalls   []int64
		wantAborted bool
	}{
		{name: "isolate runs everyone", policy: config.PolicyIsolate, wantCalls: []int64{1, 2, 3}},
		{name: "abort stops after failure", policy: config.PolicyAbort, wantCalls: []int64{1, 2}, wantAborted: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls []int64
			procs := []Processor{scripted(1, &calls, nil), scripted(2, &calls, boom), scripted(3, &calls, nil)}

			r, err := NewRunner(tc.policy, nil)
			if err != nil {
				t.Fatalf("NewRunner: %v", err)
			}
			err = r.Run(context.Background(), procs, []*frames.Frame{frameWith(0)})

			var runErr *RunError
			if !errors.As(err, &runErr) {
				t.Fatalf("expected *RunError, got %v", err)
			}
			if !errors.Is(err, boom) {
				t.Fatalf("RunError should wrap the processor error")
			}
			if runErr.Aborted != tc.wantAborted || len(runErr.Failures) != 1 || runErr.Failures[0].ProcessorID != 2 {
				t.Fatalf("unexpected run error %+v", runErr)
			}
			if len(calls) != len(tc.wantCalls) {
				t.Fatalf("calls = %v, want %v", calls, tc.wantCalls)
			}
			for i := range calls {
				if calls[i] != tc.wantCalls[i] {
					t.Fatalf("calls = %v, want %v", calls, tc.wantCalls)
				}
			}
		})
	}

	if _, err := NewRunner("retry", nil); err == nil {
		t.Fatal("unknown policy should be rejected")
	}
}

func TestRunnerStopsOnCancellation(t *testing.T) {
	var calls []int64
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, _ := NewRunner(config.PolicyIsolate, nil)
	err := r.Run(ctx, []Processor{scripted(1, &calls, nil)}, nil)
	if !errors.Is(err, context.Canceled) || len(calls) != 0 {
		t.Fatalf("err = %v, calls = %v", err, calls)
	}
}

func TestSetSyncKeepsStateAndDropsRemoved(t *testing.T) {
	sink := &memorySink{}
	set := NewSet(Deps{Sink: sink})

	traffic := storage.ProcessorConfig{ID: 1, Kind: storage.KindTraffic, Threshold: 0.5}
	objects := storage.ProcessorConfig{ID: 2, Kind: storage.KindObjects, Threshold: 0.5}

	procs, err := set.Sync([]storage.ProcessorConfig{traffic, objects})
	if err != nil || len(procs) != 2 {
		t.Fatalf("first sync: %v, %d", err, len(procs))
	}
	first := procs[0]
	if err := first.Process(context.Background(), []*frames.Frame{frameWith(0, obj("car", 0.9, 0.2, 0.2))}); err != nil {
		t.Fatalf("process: %v", err)
	}

	objects.Threshold = 0.8
	procs, err = set.Sync([]storage.ProcessorConfig{objects, traffic, {ID: 3, Kind: "plates"}})
	if err == nil || !strings.Contains(err.Error(), "plates") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
	if len(procs) != 2 || procs[0].ID() != 2 || procs[1].ID() != 1 {
		t.Fatalf("unexpected processors after resync")
	}
	if procs[1] != first {
		t.Fatal("unchanged processor should be reused")
	}
	if procs[0].Config().Threshold != 0.8 {
		t.Fatal("edited threshold not applied")
	}
	// same car still there: no new entry because state survived the sync
	if err := procs[1].Process(context.Background(), []*frames.Frame{frameWith(1, obj("car", 0.9, 0.2, 0.2))}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if last := sink.events[len(sink.events)-1]; last.value != 0 {
		t.Fatalf("state lost across sync: %+v", last)
	}

	if _, err := set.Sync(nil); err != nil || set.Len() != 0 {
		t.Fatalf("removed processors should be dropped, len=%d", set.Len())
	}
}

func TestSinkErrorPropagates(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	p, _ := New(storage.ProcessorConfig{ID: 1, Kind: storage.KindObjects}, Deps{Sink: sink})
	if err := p.Process(context.Background(), []*frames.Frame{frameWith(0)}); err == nil {
		t.Fatal("expected sink error")
	}
}

type memoryStore struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func (m *memoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, opts ...storage.PutOption) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string][]byte)
	}
	m.keys[key] = b
	return nil
}

func (m *memoryStore) HealthCheck(ctx context.Context) error { return nil }

func TestRunnerUploadsPreview(t *testing.T) {
	store := &memoryStore{}
	r, _ := NewRunner(config.PolicyIsolate, nil, WithPreviews(NewPreviewer(store, nil)))

	sink := &memorySink{}
	p, _ := New(storage.ProcessorConfig{ID: 4, CameraID: 2, Kind: storage.KindObjects, Preview: true}, Deps{Sink: sink})

	f := frameWith(0, obj("car", 0.9, 0.5, 0.5))
	f.Image = gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer f.Close()

	if err := r.Run(context.Background(), []Processor{p}, []*frames.Frame{f}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	jpeg, ok := store.keys[PreviewKey(2, 4)]
	if !ok || len(jpeg) < 2 || jpeg[0] != 0xFF || jpeg[1] != 0xD8 {
		t.Fatalf("preview missing or not a JPEG (%d bytes)", len(jpeg))
	}
}
