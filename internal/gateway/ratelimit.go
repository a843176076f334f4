// ABOUTME: Per-session sliding-window rate limiting over 1s and 60s windows
// ABOUTME: Windows carry their own locks; a periodic sweep drops idle sessions

package gateway

import (
	"context"
	"sync"
	"time"
)

const (
	rateWindowMinute = time.Minute
	rateWindowSecond = time.Second
)

// RateLimiter enforces per-session message-rate caps over a sliding window.
// The map is guarded by its own mutex; each session window has a separate
// lock so concurrent sessions do not serialize on one another.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow

	maxPerSecond int
	maxPerMinute int
	idleTTL      time.Duration

	now func() time.Time // test hook
}

type rateWindow struct {
	mu      sync.Mutex
	stamps  []time.Time
	touched time.Time
	// dead marks a window removed by Sweep. A caller that looked the window
	// up before the sweep must not record into it.
	dead bool
}

// NewRateLimiter creates a limiter. A cap of zero or below disables that
// check; idleTTL bounds how long an untouched session window is retained.
func NewRateLimiter(maxPerSecond, maxPerMinute int, idleTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		windows:      make(map[string]*rateWindow),
		maxPerSecond: maxPerSecond,
		maxPerMinute: maxPerMinute,
		idleTTL:      idleTTL,
		now:          time.Now,
	}
}

// CheckAndRecord prunes the session's window to the last 60 seconds, checks
// both caps, and records the event only when it is admitted. The first
// message for a session always passes.
func (rl *RateLimiter) CheckAndRecord(sessionKey string) bool {
	now := rl.now()
	for {
		w := rl.window(sessionKey)
		w.mu.Lock()
		if w.dead {
			// Swept between the map lookup and the lock; fetch a fresh window
			// so the record is not lost in an orphan.
			w.mu.Unlock()
			continue
		}
		ok := rl.admit(w, now)
		w.mu.Unlock()
		return ok
	}
}

// admit applies both window checks and records on pass. Caller holds w.mu.
func (rl *RateLimiter) admit(w *rateWindow, now time.Time) bool {
	w.touched = now

	// Prune entries older than the minute window.
	cutoff := now.Add(-rateWindowMinute)
	keep := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	w.stamps = keep

	if rl.maxPerMinute > 0 && len(w.stamps) >= rl.maxPerMinute {
		return false
	}
	if rl.maxPerSecond > 0 {
		secCutoff := now.Add(-rateWindowSecond)
		recent := 0
		for i := len(w.stamps) - 1; i >= 0; i-- {
			if !w.stamps[i].After(secCutoff) {
				break
			}
			recent++
		}
		if recent >= rl.maxPerSecond {
			return false
		}
	}

	w.stamps = append(w.stamps, now)
	return true
}

// window returns the session's window, creating it if needed.
func (rl *RateLimiter) window(sessionKey string) *rateWindow {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[sessionKey]
	if !ok {
		w = &rateWindow{touched: rl.now()}
		rl.windows[sessionKey] = w
	}
	return w
}

// Sweep removes windows untouched for longer than the idle TTL and returns
// how many were dropped. Each window's lock is taken before inspecting it, so
// a sweep cannot race a concurrent CheckAndRecord for the same key.
func (rl *RateLimiter) Sweep() int {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, w := range rl.windows {
		w.mu.Lock()
		idle := now.Sub(w.touched) > rl.idleTTL
		if idle {
			w.dead = true
		}
		w.mu.Unlock()
		if idle {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// RunSweeper runs Sweep on the given interval until the context is canceled.
func (rl *RateLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

// size returns the number of tracked sessions.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}
