package appwrite

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type routeLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// throttle paces outbound requests per route. Callers wait for a token instead of
// being rejected, so a burst of CLI calls slows down rather than fails.
type throttle struct {
	mu     sync.Mutex
	routes map[string]*routeLimiter
	limit  rate.Limit
	burst  int
	ttl    time.Duration
	now    func() time.Time
}

// newThrottle allows up to perSecond requests per route with the given burst. A
// non-positive rate disables throttling and returns nil.
func newThrottle(perSecond float64, burst int) *throttle {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &throttle{
		routes: make(map[string]*routeLimiter),
		limit:  rate.Limit(perSecond),
		burst:  burst,
		ttl:    5 * time.Minute,
		now:    time.Now,
	}
}

// Wait blocks until route may issue a request or ctx is done. A nil throttle never
// blocks.
func (t *throttle) Wait(ctx context.Context, route string) error {
	if t == nil {
		return nil
	}
	if route == "" {
		route = "unknown"
	}

	now := t.now()

	t.mu.Lock()
	r := t.routeLocked(route, now)
	t.gcLocked(now)
	t.mu.Unlock()

	return r.limiter.Wait(ctx)
}

func (t *throttle) routeLocked(route string, now time.Time) *routeLimiter {
	if r, ok := t.routes[route]; ok {
		r.lastSeen = now
		return r
	}
	r := &routeLimiter{limiter: rate.NewLimiter(t.limit, t.burst), lastSeen: now}
	t.routes[route] = r
	return r
}

func (t *throttle) gcLocked(now time.Time) {
	for route, r := range t.routes {
		if now.Sub(r.lastSeen) > t.ttl {
			delete(t.routes, route)
		}
	}
}
