package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// window tracks one key. mu serializes increments for that key only.
type window struct {
	mu       sync.Mutex
	start    time.Time
	count    int
	lastSeen time.Time
	// evicted is set by reap once the window left the map.
	evicted bool
}

// MemoryLimiter is an in-process fixed-window limiter. Each process enforces
// its own counters, so it is only correct for a single instance; use
// RedisLimiter when several instances share traffic.
type MemoryLimiter struct {
	cfg   Config
	clock clockwork.Clock

	mu      sync.Mutex
	windows map[string]*window

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMemoryLimiter creates the limiter and starts its idle-key reaper.
// Call Close to stop the reaper.
func NewMemoryLimiter(cfg Config, clock clockwork.Clock) *MemoryLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	l := &MemoryLimiter{
		cfg:     cfg,
		clock:   clock,
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.reapLoop()
	return l
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	for {
		if d, ok := l.allowOn(l.get(key)); ok {
			return d, nil
		}
	}
}

// allowOn counts a request against w. It reports false when w was evicted
// after the caller looked it up; the caller then fetches a fresh window.
func (l *MemoryLimiter) allowOn(w *window) (Decision, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.evicted {
		return Decision{}, false
	}
	now := l.clock.Now()
	w.lastSeen = now
	if w.count == 0 || !now.Before(w.start.Add(l.cfg.Window)) {
		w.start = now
		w.count = 0
	}
	w.count++

	if w.count > l.cfg.Limit {
		return Decision{Allowed: false, RetryAfter: w.start.Add(l.cfg.Window).Sub(now)}, true
	}
	return Decision{Allowed: true}, true
}

func (l *MemoryLimiter) get(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}

func (l *MemoryLimiter) reapLoop() {
	defer close(l.done)

	interval := l.cfg.IdleTTL / 5
	if interval < time.Second {
		interval = time.Second
	}
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.Chan():
			l.reap()
		}
	}
}

// reap evicts keys that have been idle longer than IdleTTL.
func (l *MemoryLimiter) reap() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		w.mu.Lock()
		if now.Sub(w.lastSeen) > l.cfg.IdleTTL {
			w.evicted = true
			delete(l.windows, key)
		}
		w.mu.Unlock()
	}
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Close stops the reaper and waits for it to exit.
func (l *MemoryLimiter) Close() error {
	l.once.Do(func() { close(l.stop) })
	<-l.done
	return nil
}
