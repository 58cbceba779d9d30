package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// ClientLimiter approximates a sliding window per client key by weighting
// the previous fixed window's count by how much of it still overlaps.
type ClientLimiter struct {
	limit  int
	window time.Duration
	clock  clockwork.Clock

	mu      sync.Mutex
	clients map[string]*windowCount

	stop chan struct{}
	once sync.Once
}

type windowCount struct {
	start time.Time
	prev  int
	cur   int
}

// NewClientLimiter allows limit requests per window per key and evicts idle
// keys in the background until Stop.
func NewClientLimiter(limit int, window time.Duration) *ClientLimiter {
	return newClientLimiter(limit, window, clockwork.NewRealClock())
}

func newClientLimiter(limit int, window time.Duration, clock clockwork.Clock) *ClientLimiter {
	l := &ClientLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		clients: make(map[string]*windowCount),
		stop:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Allow records one request for key unless that would exceed the limit.
func (l *ClientLimiter) Allow(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	wc, ok := l.clients[key]
	if !ok {
		wc = &windowCount{start: now.Truncate(l.window)}
		l.clients[key] = wc
	}
	wc.roll(now, l.window)

	overlap := 1 - float64(now.Sub(wc.start))/float64(l.window)
	estimate := float64(wc.prev)*overlap + float64(wc.cur)
	if estimate >= float64(l.limit) {
		return false
	}
	wc.cur++
	return true
}

func (wc *windowCount) roll(now time.Time, window time.Duration) {
	elapsed := now.Sub(wc.start)
	switch {
	case elapsed < window:
		return
	case elapsed < 2*window:
		wc.prev, wc.cur = wc.cur, 0
	default:
		wc.prev, wc.cur = 0, 0
	}
	wc.start = now.Truncate(window)
}

// Middleware answers 429 with Retry-After once a client IP is over the limit.
func (l *ClientLimiter) Middleware(clientKey func(*http.Request) string) MiddlewareFunc {
	retryAfter := strconv.Itoa(int(l.window.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", retryAfter)
				WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *ClientLimiter) evictLoop() {
	t := l.clock.NewTicker(l.window)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.Chan():
			l.evict()
		}
	}
}

func (l *ClientLimiter) evict() {
	cutoff := l.clock.Now().Add(-2 * l.window)
	l.mu.Lock()
	for key, wc := range l.clients {
		if wc.start.Before(cutoff) {
			delete(l.clients, key)
		}
	}
	l.mu.Unlock()
}

// Stop ends background eviction. Safe to call more than once.
func (l *ClientLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}
