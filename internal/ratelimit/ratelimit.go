// Package ratelimit implements the per-(provider,endpoint) sliding-window
// admission governor described in spec §4.1. No library in the retrieved
// example pack offers a sliding-window limiter with server-issued
// retry-after override semantics (golang.org/x/time/rate's token bucket
// doesn't expose that), so this is hand-rolled on sync.Mutex/sync.Cond —
// see DESIGN.md.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// key identifies one independent counter.
type key struct {
	provider string
	endpoint string
}

// window holds one counter's state.
type window struct {
	mu            sync.Mutex
	cond          *sync.Cond
	limit         int
	windowLen     time.Duration
	admitted      []time.Time
	cooldownUntil time.Time
}

func newWindow(limit int, windowLen time.Duration) *window {
	w := &window{limit: limit, windowLen: windowLen}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Governor owns one window per (provider, endpoint) key.
type Governor struct {
	mu       sync.Mutex
	windows  map[key]*window
	now      func() time.Time
	defaultW time.Duration
}

// Option configures a Governor at construction.
type Option func(*Governor)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// NewGovernor returns a Governor with no pre-registered keys; call Configure
// for each (provider, endpoint) pair before first use, or rely on Acquire's
// lazy registration with the supplied default limit.
func NewGovernor(opts ...Option) *Governor {
	g := &Governor{
		windows:  make(map[key]*window),
		now:      time.Now,
		defaultW: time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Configure registers (or re-registers) the requests-per-minute limit for a
// (provider, endpoint) pair. Safe to call before any Acquire.
func (g *Governor) Configure(provider, endpoint string, limitPerMinute int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := key{provider, endpoint}
	if w, ok := g.windows[k]; ok {
		w.mu.Lock()
		w.limit = limitPerMinute
		w.mu.Unlock()
		w.cond.Broadcast()
		return
	}
	g.windows[k] = newWindow(limitPerMinute, g.defaultW)
}

func (g *Governor) windowFor(provider, endpoint string, defaultLimit int) *window {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := key{provider, endpoint}
	w, ok := g.windows[k]
	if !ok {
		w = newWindow(defaultLimit, g.defaultW)
		g.windows[k] = w
	}
	return w
}

// Acquire blocks until the (provider, endpoint) window admits another
// request: now >= cooldown_until and the number of admissions in the last
// window is below the configured limit. Waiters are released by
// sync.Cond.Broadcast (cooperative, no busy-spin) whenever state changes
// that could admit them. defaultLimit is used only if Configure was never
// called for this key.
func (g *Governor) Acquire(ctx context.Context, provider, endpoint string, defaultLimit int) error {
	w := g.windowFor(provider, endpoint, defaultLimit)

	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				w.cond.Broadcast()
			case <-done:
			}
		}()
		defer close(done)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		now := g.now()
		w.evictLocked(now)
		if now.Before(w.cooldownUntil) {
			w.waitUntilLocked(w.cooldownUntil)
			continue
		}
		if len(w.admitted) >= w.limit {
			// Wait for the oldest admission to fall out of the window.
			wake := w.admitted[0].Add(w.windowLen)
			w.waitUntilLocked(wake)
			continue
		}
		w.admitted = append(w.admitted, now)
		return nil
	}
}

// waitUntilLocked sleeps (releasing w.mu while asleep) until either wake or
// a Broadcast wakes it early to re-check conditions. w.mu must be held.
func (w *window) waitUntilLocked(wake time.Time) {
	d := time.Until(wake)
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, func() { w.cond.Broadcast() })
	defer timer.Stop()
	w.cond.Wait()
}

func (w *window) evictLocked(now time.Time) {
	cutoff := now.Add(-w.windowLen)
	i := 0
	for i < len(w.admitted) && w.admitted[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.admitted = w.admitted[i:]
	}
}

// NotifyRetryAfter sets cooldown_until = max(cooldown_until, now+duration)
// for the (provider, endpoint) key and wakes all waiters so they can
// recompute.
func (g *Governor) NotifyRetryAfter(provider, endpoint string, duration time.Duration) {
	w := g.windowFor(provider, endpoint, 0)
	w.mu.Lock()
	candidate := g.now().Add(duration)
	if candidate.After(w.cooldownUntil) {
		w.cooldownUntil = candidate
	}
	w.mu.Unlock()
	w.cond.Broadcast()
}
