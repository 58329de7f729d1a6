package web

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	limiterIdleExpiration  = 10 * time.Minute
	limiterCleanupInterval = 15 * time.Minute
	limiterBurst           = 3
)

// clientLimiter hands out one token bucket per client IP. Buckets for clients
// that go quiet expire from the cache. A nil *clientLimiter allows everything.
type clientLimiter struct {
	mu      sync.Mutex
	buckets *cache.Cache
	every   time.Duration
}

func newClientLimiter(perMinute int) *clientLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &clientLimiter{
		buckets: cache.New(limiterIdleExpiration, limiterCleanupInterval),
		every:   time.Minute / time.Duration(perMinute),
	}
}

func (l *clientLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		// Touch the entry so active clients keep their bucket.
		l.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(rate.Every(l.every), limiterBurst)
	l.buckets.SetDefault(key, lim)
	return lim
}

// allow reports whether the client may start another run now.
func (l *clientLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	return l.get(key).Allow()
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.every.Seconds())+1))
			http.Error(w, "too many requests, try again shortly", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
