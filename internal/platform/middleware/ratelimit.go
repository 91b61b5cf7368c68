package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL is how long an unused client limiter is kept.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 50, Burst: 100, IdleTTL: 5 * time.Minute}
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// limiterStore keeps one token bucket per client key.
type limiterStore struct {
	mu        sync.Mutex
	cfg       RateLimitConfig
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	return &limiterStore{cfg: cfg, clients: make(map[string]*clientLimiter), now: time.Now}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > s.cfg.IdleTTL {
		for k, cl := range s.clients {
			if now.Sub(cl.lastSeen) > s.cfg.IdleTTL {
				delete(s.clients, k)
			}
		}
		s.lastSweep = now
	}

	cl, ok := s.clients[key]
	if !ok {
		cl = &clientLimiter{lim: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)}
		s.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.lim
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// RateLimit throttles requests per client IP. Rejected requests get 429 with
// a Retry-After hint.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(newLimiterStore(cfg))
}

func rateLimit(store *limiterStore) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(store.cfg.RequestsPerSecond, 'f', -1, 64)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if key == "" {
				key = "unknown"
			}
			lim := store.get(key)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			r := lim.Reserve()
			if !r.OK() {
				h.Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if d := r.Delay(); d > 0 {
				r.Cancel()
				h.Set("Retry-After", strconv.Itoa(int(d/time.Second)+1))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
