package httpx

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const rateLimiterSweepEvery = 5 * time.Minute

// RateLimit bounds requests per client address within a fixed window. Zero Requests disables it.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

func (l RateLimit) window() time.Duration {
	if l.Window <= 0 {
		return time.Minute
	}
	return l.Window
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(key string, limit RateLimit) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	remaining int
	reset     time.Time
}

func decide(count int, limit RateLimit, reset time.Time) rateDecision {
	remaining := limit.Requests - count
	if remaining < 0 {
		remaining = 0
	}
	return rateDecision{allowed: count <= limit.Requests, remaining: remaining, reset: reset}
}

// memoryRateLimiter keeps counters in process. Expired windows are swept during Allow.
type memoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*rateWindow
	nextSweep time.Time
	now       func() time.Time
}

type rateWindow struct {
	count int
	reset time.Time
}

// NewMemoryRateLimiter returns a process-local limiter.
func NewMemoryRateLimiter() RateLimiter {
	return &memoryRateLimiter{windows: make(map[string]*rateWindow), now: time.Now}
}

func (rl *memoryRateLimiter) Allow(key string, limit RateLimit) rateDecision {
	if limit.Requests <= 0 {
		return rateDecision{allowed: true}
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweep(now)

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &rateWindow{reset: now.Add(limit.window())}
		rl.windows[key] = w
	}
	// Rejected requests do not extend the count past the limit.
	if w.count < limit.Requests {
		w.count++
		return decide(w.count, limit, w.reset)
	}
	return decide(w.count+1, limit, w.reset)
}

func (rl *memoryRateLimiter) sweep(now time.Time) {
	if now.Before(rl.nextSweep) {
		return
	}
	rl.nextSweep = now.Add(rateLimiterSweepEvery)
	for key, w := range rl.windows {
		if !now.Before(w.reset) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {}

// withRateLimit applies the deploy limit to a route, keyed by the caller's socket address.
func (r *Router) withRateLimit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit := r.deployLimit
		if limit.Requests <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		decision := r.limiter.Allow(route+":"+remoteHost(req), limit)
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(decision.remaining))
		if !decision.reset.IsZero() {
			headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.reset.Unix(), 10))
		}
		if !decision.allowed {
			headers.Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.reset, time.Now())))
			r.metrics.recordRateLimitHit(route)
			writeErrorCode(w, http.StatusTooManyRequests, codeRateLimited, "Too many deployments requested, try again later")
			return
		}
		next(w, req)
	}
}

// remoteHost ignores forwarding headers so clients cannot pick their own bucket.
func remoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}

func retryAfterSeconds(reset, now time.Time) int {
	secs := int(math.Ceil(reset.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
