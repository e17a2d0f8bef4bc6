// Package metrics provides Prometheus metrics for the camera watchers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stages timed per segment.
const (
	StageManifest = "manifest"
	StageDownload = "download"
	StageSample   = "sample"
	StageDetect   = "detect"
	StageProcess  = "process"
)

// Collector manages all Prometheus metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Gauges
	watchersActive prometheus.Gauge
	relayClients   prometheus.Gauge

	// Counters
	segmentsProcessed *prometheus.CounterVec
	segmentsSkipped   *prometheus.CounterVec
	eventsWritten     *prometheus.CounterVec
	processorErrors   *prometheus.CounterVec
	watcherRestarts   *prometheus.CounterVec

	// Histograms
	stageDuration *prometheus.HistogramVec
}

// NewCollector registers every metric on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.watchersActive = factory.NewGauge(prometheus.GaugeOpts{
		Name: "hypersight_watchers_active",
		Help: "Camera watchers currently running",
	})

	c.relayClients = factory.NewGauge(prometheus.GaugeOpts{
		Name: "hypersight_relay_clients",
		Help: "Websocket clients subscribed to the presence relay",
	})

	c.segmentsProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hypersight_segments_processed_total",
		Help: "Segments that reached the processors",
	}, []string{"camera"})

	c.segmentsSkipped = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hypersight_segments_skipped_total",
		Help: "Segments skipped, by reason",
	}, []string{"camera", "reason"})

	c.eventsWritten = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hypersight_events_written_total",
		Help: "Metric events appended, by processor kind",
	}, []string{"kind"})

	c.processorErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hypersight_processor_errors_total",
		Help: "Processor invocations that returned an error",
	}, []string{"kind"})

	c.watcherRestarts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hypersight_watcher_restarts_total",
		Help: "Watchers restarted after exiting with an error",
	}, []string{"camera"})

	c.stageDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hypersight_stage_duration_seconds",
		Help:    "Time spent per pipeline stage",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})

	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveStage records how long one stage took.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SegmentProcessed counts a segment whose frames reached the processors.
func (c *Collector) SegmentProcessed(cameraID int64) {
	if c == nil {
		return
	}
	c.segmentsProcessed.WithLabelValues(strconv.FormatInt(cameraID, 10)).Inc()
}

// SegmentSkipped counts a segment dropped for reason.
func (c *Collector) SegmentSkipped(cameraID int64, reason string) {
	if c == nil {
		return
	}
	c.segmentsSkipped.WithLabelValues(strconv.FormatInt(cameraID, 10), reason).Inc()
}

// EventWritten counts an appended event.
func (c *Collector) EventWritten(kind string) {
	if c == nil {
		return
	}
	c.eventsWritten.WithLabelValues(kind).Inc()
}

// ProcessorFailed counts a processor error.
func (c *Collector) ProcessorFailed(kind string) {
	if c == nil {
		return
	}
	c.processorErrors.WithLabelValues(kind).Inc()
}

// WatcherRestarted counts a supervisor restart.
func (c *Collector) WatcherRestarted(cameraID int64) {
	if c == nil {
		return
	}
	c.watcherRestarts.WithLabelValues(strconv.FormatInt(cameraID, 10)).Inc()
}

// SetActiveWatchers updates the running watcher count.
func (c *Collector) SetActiveWatchers(n int) {
	if c == nil {
		return
	}
	c.watchersActive.Set(float64(n))
}

// SetRelayClients updates the relay subscriber count.
func (c *Collector) SetRelayClients(n int) {
	if c == nil {
		return
	}
	c.relayClients.Set(float64(n))
}
