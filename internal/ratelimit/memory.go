package ratelimit

import (
	"sync"
	"time"
)

// memoryWindow is the in-process fallback counter store. Scoped to the
// current instance only; entries are dropped lazily as windows roll over.
type memoryWindow struct {
	mu      sync.Mutex
	windows map[string]*windowEntry
}

type windowEntry struct {
	start time.Time
	count int
}

func newMemoryWindow() *memoryWindow {
	return &memoryWindow{windows: make(map[string]*windowEntry)}
}

func (m *memoryWindow) allow(bucket, clientKey string, cost, max int, window time.Duration, now time.Time) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bucket + ":" + clientKey
	windowStart := now.Truncate(window)

	entry, ok := m.windows[key]
	if !ok || entry.start.Before(windowStart) {
		entry = &windowEntry{start: windowStart}
		m.windows[key] = entry
	}

	entry.count += cost
	if entry.count > max {
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter(windowStart, window, now),
		}
	}

	// Opportunistic cleanup so the map does not grow unbounded.
	if len(m.windows) > 4096 {
		for k, e := range m.windows {
			if e.start.Add(2 * window).Before(now) {
				delete(m.windows, k)
			}
		}
	}

	return Decision{Allowed: true, Remaining: max - entry.count}
}
