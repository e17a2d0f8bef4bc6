package watcher

import (
	"sync/atomic"
	"time"
)

// Stats tracks one watcher's progress. Safe to read while Run is active.
type Stats struct {
	Iterations        atomic.Uint64
	SegmentsProcessed atomic.Uint64
	SegmentsSkipped   atomic.Uint64
	DownloadFailures  atomic.Uint64
	DetectFailures    atomic.Uint64
	ProcessorFailures atomic.Uint64

	lastSegment atomic.Int64 // unix nanos
}

// Snapshot is a plain copy of Stats
type Snapshot struct {
	Iterations        uint64    `json:"iterations"`
	SegmentsProcessed uint64    `json:"segments_processed"`
	SegmentsSkipped   uint64    `json:"segments_skipped"`
	DownloadFailures  uint64    `json:"download_failures"`
	DetectFailures    uint64    `json:"detect_failures"`
	ProcessorFailures uint64    `json:"processor_failures"`
	LastSegment       time.Time `json:"last_segment,omitempty"`
}

func (s *Stats) markSegment(t time.Time) { s.lastSegment.Store(t.UnixNano()) }

// Snapshot copies the counters
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Iterations:        s.Iterations.Load(),
		SegmentsProcessed: s.SegmentsProcessed.Load(),
		SegmentsSkipped:   s.SegmentsSkipped.Load(),
		DownloadFailures:  s.DownloadFailures.Load(),
		DetectFailures:    s.DetectFailures.Load(),
		ProcessorFailures: s.ProcessorFailures.Load(),
	}
	if ns := s.lastSegment.Load(); ns != 0 {
		snap.LastSegment = time.Unix(0, ns).UTC()
	}
	return snap
}
