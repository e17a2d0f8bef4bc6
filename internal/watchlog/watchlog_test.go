package watchlog

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldsReachZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core)).Named("watcher").With(Int64("camera_id", 7))

	l.Warn("segment skipped",
		String("uri", "http://cam/seg1.ts"),
		Int("attempts", 10),
		Duration("elapsed", 2*time.Second),
		Error(errors.New("boom")),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "watcher" {
		t.Fatalf("logger name = %q", e.LoggerName)
	}
	ctx := e.ContextMap()
	if ctx["camera_id"] != int64(7) {
		t.Fatalf("camera_id = %v", ctx["camera_id"])
	}
	if ctx["attempts"] != int64(10) {
		t.Fatalf("attempts = %v", ctx["attempts"])
	}
	if ctx["error"] != "boom" {
		t.Fatalf("error = %v", ctx["error"])
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "bad level", opts: Options{Level: "loud", Format: "json"}},
		{name: "bad format", opts: Options{Level: "info", Format: "xml"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.opts); err == nil {
				t.Fatalf("expected error for %+v", tc.opts)
			}
		})
	}
}

func TestReplaceGlobalIgnoresNil(t *testing.T) {
	before := L()
	ReplaceGlobal(nil)
	if L() != before {
		t.Fatalf("nil replacement changed the global logger")
	}
}
