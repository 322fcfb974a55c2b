package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// visitor tracks a token bucket per client IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorStore manages per-IP limiters and evicts stale ones.
type visitorStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	ttl      time.Duration
	nowFunc  func() time.Time
}

func newVisitorStore(rps float64, burst int, ttl time.Duration) *visitorStore {
	return &visitorStore{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		nowFunc:  time.Now,
	}
}

// reserve takes one token for ip and returns how long the caller would have
// to wait for it. A positive delay means the request is refused and the
// token is handed back.
func (s *visitorStore) reserve(ip string) time.Duration {
	now := s.nowFunc()

	s.mu.Lock()
	v, ok := s.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.visitors[ip] = v
	}
	v.lastSeen = now
	s.mu.Unlock()

	res := v.limiter.ReserveN(now, 1)
	if !res.OK() {
		return s.ttl
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		res.CancelAt(now)
	}
	return delay
}

func (s *visitorStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup evicts visitors not seen within the TTL.
func (s *visitorStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	for ip, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.ttl {
			delete(s.visitors, ip)
		}
	}
}

func (s *visitorStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// IPRateLimit throttles requests per client IP with a token bucket of rps
// and burst. The eviction loop stops when ctx is done. Mount it after
// chi's RealIP so RemoteAddr carries the client address.
func IPRateLimit(ctx context.Context, rps float64, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	store := newVisitorStore(rps, burst, 3*time.Minute)
	go store.cleanupLoop(ctx)
	return ipRateLimit(store, logger)
}

func ipRateLimit(store *visitorStore, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			delay := store.reserve(ip)
			if delay > 0 {
				secs := int((delay + time.Second - 1) / time.Second)
				logger.Warn("ip rate limit exceeded",
					zap.String("ip", ip),
					zap.String("path", r.URL.Path),
				)
				RespondRateLimited(w, secs)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RespondRateLimited writes the 429 body shared by every throttled endpoint.
func RespondRateLimited(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":               "rate_limited",
		"retry_after_seconds": retryAfterSeconds,
	})
}

// ClientIP returns the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
