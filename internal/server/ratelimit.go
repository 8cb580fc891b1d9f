package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/hmochat-go/internal/logging"
)

// Per-client token bucket defaults for /api/chat and /api/search. A chat turn
// costs two completions, so the sustained rate is modest.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20

	limiterIdleTTL   = 5 * time.Minute
	limiterSweepEach = time.Minute
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// clientLimiters keeps one token bucket per client IP. Buckets idle for
// longer than limiterIdleTTL are swept while the server runs.
type clientLimiters struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time

	// rejected counts 429s by handler; nil disables counting.
	rejected *prometheus.CounterVec
}

func newClientLimiters(rps float64, burst int, rejected *prometheus.CounterVec) *clientLimiters {
	return &clientLimiters{
		buckets:  make(map[string]*bucket),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		rejected: rejected,
	}
}

// allow takes one token from ip's bucket. When the bucket is empty it
// returns false and how long until a token is available.
func (c *clientLimiters) allow(ip string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	b, ok := c.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(c.limit, c.burst)}
		c.buckets[ip] = b
	}
	b.lastSeen = now

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// sweep drops buckets not seen within idle and reports how many it removed.
func (c *clientLimiters) sweep(idle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-idle)
	n := 0
	for ip, b := range c.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(c.buckets, ip)
			n++
		}
	}
	return n
}

// run sweeps idle buckets until stop is closed.
func (c *clientLimiters) run(stop <-chan struct{}) {
	ticker := time.NewTicker(limiterSweepEach)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sweep(limiterIdleTTL)
		}
	}
}

// wrap rejects over-limit requests with 429, a JSON error body and a
// Retry-After header in whole seconds.
func (c *clientLimiters) wrap(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, wait := c.allow(ip)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("handler", name),
			slog.Duration("retry_after", wait),
		)
		if c.rejected != nil {
			c.rejected.WithLabelValues(name).Inc()
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// clientIP is the remote IP without its port. X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
