package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveStage(StageDownload, time.Second)
	c.SegmentProcessed(1)
	c.SegmentSkipped(1, "download")
	c.EventWritten("traffic")
	c.ProcessorFailed("faces")
	c.WatcherRestarted(1)
	c.SetActiveWatchers(3)
	c.SetRelayClients(2)
	if c.Registry() != nil {
		t.Fatal("nil collector should have no registry")
	}
}

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	c := NewCollector()
	c.ObserveStage(StageDetect, 200*time.Millisecond)
	c.SegmentProcessed(4)
	c.SegmentSkipped(4, "download")
	c.EventWritten("objects")
	c.SetActiveWatchers(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`hypersight_stage_duration_seconds_count{stage="detect"} 1`,
		`hypersight_segments_processed_total{camera="4"} 1`,
		`hypersight_segments_skipped_total{camera="4",reason="download"} 1`,
		`hypersight_events_written_total{kind="objects"} 1`,
		`hypersight_watchers_active 2`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, out)
		}
	}
}
