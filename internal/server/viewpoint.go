package server

import (
	"math"
	"sync"
	"time"

	"terrainstream/internal/world"
)

// viewpointTracker holds the latest accepted viewpoint. The most recent
// update wins regardless of which client sent it.
type viewpointTracker struct {
	mu      sync.RWMutex
	current world.Float2
	source  string
	updated time.Time
	now     timeSource
}

func newViewpointTracker(initial world.Float2) *viewpointTracker {
	return &viewpointTracker{current: initial, source: "config", now: time.Now}
}

// Set records a viewpoint. Non-finite coordinates are rejected.
func (t *viewpointTracker) Set(v world.Float2, source string) bool {
	if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) {
		return false
	}
	t.mu.Lock()
	t.current = v
	t.source = source
	t.updated = t.now()
	t.mu.Unlock()
	return true
}

func (t *viewpointTracker) Get() world.Float2 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Source reports who set the current viewpoint and when.
func (t *viewpointTracker) Source() (string, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.source, t.updated
}
