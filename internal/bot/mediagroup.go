package bot

import (
	"context"
	"sync"
	"time"
)

// MediaGroupTracker counts images that arrive as one Telegram album so the
// bot answers an album once instead of once per image. Entries expire after
// the window and the map never grows past maxGroups.
type MediaGroupTracker struct {
	mu        sync.Mutex
	groups    map[string]*mediaGroup
	window    time.Duration
	maxGroups int
	now       func() time.Time
}

type mediaGroup struct {
	count    int
	lastSeen time.Time
}

// NewMediaGroupTracker creates a tracker
func NewMediaGroupTracker(window time.Duration, maxGroups int) *MediaGroupTracker {
	if window <= 0 {
		window = 5 * time.Second
	}
	if maxGroups <= 0 {
		maxGroups = 1024
	}
	return &MediaGroupTracker{
		groups:    make(map[string]*mediaGroup),
		window:    window,
		maxGroups: maxGroups,
		now:       time.Now,
	}
}

// Track records one image of groupID and reports whether it is the first one
// seen inside the window
func (t *MediaGroupTracker) Track(groupID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)

	g, ok := t.groups[groupID]
	if !ok {
		if len(t.groups) >= t.maxGroups {
			t.evictOldestLocked()
		}
		g = &mediaGroup{}
		t.groups[groupID] = g
	}
	g.count++
	g.lastSeen = now
	return !ok
}

// Count returns how many images of groupID were tracked
func (t *MediaGroupTracker) Count(groupID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if g, ok := t.groups[groupID]; ok {
		return g.count
	}
	return 0
}

// Sweep drops expired groups and returns how many were removed
func (t *MediaGroupTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(t.now())
}

// Len returns the number of tracked groups
func (t *MediaGroupTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.groups)
}

// Run sweeps every interval until ctx is canceled
func (t *MediaGroupTracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *MediaGroupTracker) sweepLocked(now time.Time) int {
	removed := 0
	for id, g := range t.groups {
		if now.Sub(g.lastSeen) > t.window {
			delete(t.groups, id)
			removed++
		}
	}
	return removed
}

func (t *MediaGroupTracker) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, g := range t.groups {
		if oldestID == "" || g.lastSeen.Before(oldest) {
			oldestID, oldest = id, g.lastSeen
		}
	}
	delete(t.groups, oldestID)
}
