package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	reasonConcurrent = "too many concurrent requests"
	reasonRate       = "rate limit exceeded"
)

// clientWindow tracks one client's requests in the last minute
type clientWindow struct {
	requests   []time.Time
	concurrent int
}

// RateLimiter applies a sliding one-minute window and a concurrency cap
// to each client key. A zero limit disables that check.
type RateLimiter struct {
	mu            sync.Mutex
	perMinute     int
	maxConcurrent int
	clients       map[string]*clientWindow
	now           func() time.Time
}

// NewRateLimiter creates a limiter with the given limits
func NewRateLimiter(perMinute, maxConcurrent int) *RateLimiter {
	return &RateLimiter{
		perMinute:     perMinute,
		maxConcurrent: maxConcurrent,
		clients:       make(map[string]*clientWindow),
		now:           time.Now,
	}
}

// Acquire admits one request for key. On success the returned release
// func must be called when the request ends; otherwise reason explains
// the rejection.
func (l *RateLimiter) Acquire(key string) (release func(), reason string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.clients[key]
	if w == nil {
		w = &clientWindow{}
		l.clients[key] = w
	}
	w.prune(now)

	if l.maxConcurrent > 0 && w.concurrent >= l.maxConcurrent {
		return nil, reasonConcurrent, false
	}
	if l.perMinute > 0 && len(w.requests) >= l.perMinute {
		return nil, reasonRate, false
	}

	w.requests = append(w.requests, now)
	w.concurrent++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if w.concurrent > 0 {
				w.concurrent--
			}
			if w.concurrent == 0 && len(w.requests) == 0 {
				delete(l.clients, key)
			}
		})
	}, "", true
}

// Stats returns the request count in the window and the in-flight count for key
func (l *RateLimiter) Stats(key string) (requests, concurrent int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.clients[key]
	if w == nil {
		return 0, 0
	}
	w.prune(l.now())
	return len(w.requests), w.concurrent
}

func (w *clientWindow) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := w.requests[:0]
	for _, t := range w.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.requests = kept
}

// Middleware rejects requests over the limit with 429
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, reason, ok := l.Acquire(clientKey(r))
		if !ok {
			writeError(w, http.StatusTooManyRequests, reason)
			return
		}
		defer release()
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies a client by address; chi's RealIP middleware has
// already applied forwarding headers.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
