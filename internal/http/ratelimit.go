package http

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	rateWindow     = time.Minute
	staleClientAge = 10 * time.Minute
)

// rateLimiter counts mutating requests per client IP in fixed one-minute
// windows. A window opens with the client's first request in it.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*clientWindow
	limit   int
	now     func() time.Time

	// hits counts rejected requests.
	hits atomic.Int64

	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientWindow struct {
	start    time.Time
	lastSeen time.Time
	count    int
}

// newRateLimiter allows requestsPerMinute per client; zero or less disables limiting.
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	rl := &rateLimiter{
		windows:     make(map[string]*clientWindow),
		limit:       requestsPerMinute,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	if rl.limit > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries forgets clients idle for longer than staleClientAge.
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-staleClientAge)
	for ip, w := range rl.windows {
		if w.lastSeen.Before(cutoff) {
			delete(rl.windows, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// allow records one request from clientIP and reports whether it fits the
// client's budget for the current window.
func (rl *rateLimiter) allow(clientIP string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[clientIP]
	if !ok || now.Sub(w.start) >= rateWindow {
		rl.windows[clientIP] = &clientWindow{start: now, lastSeen: now, count: 1}
		return true
	}

	w.lastSeen = now
	if w.count >= rl.limit {
		rl.hits.Add(1)
		return false
	}
	w.count++
	return true
}

func (rl *rateLimiter) activeClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}
