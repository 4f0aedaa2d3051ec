// Package flood limits how often a single client may start playlist runs.
package flood

import (
	"sync"
	"time"
)

const (
	// windowDuration is the fixed time window for flood detection (always 1 minute)
	windowDuration = 60 * time.Second
	// cleanupInterval is how often we clean up expired entries
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long before we remove idle client entries
	idleTimeout = 10 * time.Minute
)

// Floodgate provides per-client sliding window rate limiting.
// A limit of zero or less disables limiting.
type Floodgate struct {
	limitPerMinute int
	entries        map[string]*clientEntry
	mutex          sync.RWMutex
	stopCleanup    chan struct{}
	stopOnce       sync.Once
	now            func() time.Time
}

type clientEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// New creates a new Floodgate. The time window is fixed at 60 seconds.
func New(limitPerMinute int) *Floodgate {
	return newFloodgate(limitPerMinute, time.Now)
}

func newFloodgate(limitPerMinute int, now func() time.Time) *Floodgate {
	fg := &Floodgate{
		limitPerMinute: limitPerMinute,
		entries:        make(map[string]*clientEntry),
		stopCleanup:    make(chan struct{}),
		now:            now,
	}

	go fg.cleanup()

	return fg
}

// Stop stops the background cleanup goroutine. It is safe to call more than once.
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() { close(fg.stopCleanup) })
}

// Allow reports whether clientID may start another run and records the attempt if so.
func (fg *Floodgate) Allow(clientID string) bool {
	if fg.limitPerMinute <= 0 {
		return true
	}

	now := fg.now()

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	entry, exists := fg.entries[clientID]
	if !exists {
		entry = &clientEntry{
			timestamps: make([]time.Time, 0, fg.limitPerMinute+1),
		}
		fg.entries[clientID] = entry
	}
	entry.lastSeen = now

	windowStart := now.Add(-windowDuration)
	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= fg.limitPerMinute {
		return false
	}

	entry.timestamps = append(entry.timestamps, now)
	return true
}

func (fg *Floodgate) cleanup() {
	fg.performCleanup(time.Now())

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			fg.performCleanup(now)
		case <-fg.stopCleanup:
			return
		}
	}
}

// performCleanup removes entries that have been idle for too long
func (fg *Floodgate) performCleanup(now time.Time) {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	cutoff := now.Add(-idleTimeout)
	for key, entry := range fg.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(fg.entries, key)
		}
	}
}

// GetStats returns statistics about the floodgate for monitoring/debugging
func (fg *Floodgate) GetStats() Stats {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	return Stats{
		ActiveClients:  len(fg.entries),
		LimitPerMinute: fg.limitPerMinute,
		WindowSeconds:  int(windowDuration.Seconds()),
	}
}

// Stats contains floodgate statistics
type Stats struct {
	ActiveClients  int `json:"active_clients"`
	LimitPerMinute int `json:"limit_per_minute"`
	WindowSeconds  int `json:"window_seconds"`
}
