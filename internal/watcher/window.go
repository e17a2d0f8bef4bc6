package watcher

import "slices"

// segmentWindow remembers recently handled segment URIs in arrival order.
// Live playlists slide, so the window never needs to outgrow one manifest.
type segmentWindow struct {
	uris []string
}

func (w *segmentWindow) Contains(uri string) bool {
	return slices.Contains(w.uris, uri)
}

func (w *segmentWindow) Add(uri string) {
	if w.Contains(uri) {
		return
	}
	w.uris = append(w.uris, uri)
}

// Trim keeps the newest n entries
func (w *segmentWindow) Trim(n int) {
	if n < 0 {
		n = 0
	}
	if len(w.uris) > n {
		w.uris = slices.Clone(w.uris[len(w.uris)-n:])
	}
}

func (w *segmentWindow) Len() int { return len(w.uris) }
