package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"

	"skylearn_backend/internal/appErrors"
)

const rateLimiterCacheSize = 4096

type rateWindow struct {
	start time.Time
	count int
}

// RateLimiter enforces a fixed-window request quota per caller. The caller
// key is the API key header when present, otherwise the client IP. Counters
// live in a bounded LRU so an open endpoint cannot grow memory without limit;
// an evicted counter resets, which only ever errs in the caller's favor.
type RateLimiter struct {
	mu      sync.Mutex
	windows *lru.Cache[string, *rateWindow]
	limit   int
	period  time.Duration
	now     func() time.Time
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	cache, err := lru.New[string, *rateWindow](rateLimiterCacheSize)
	if err != nil {
		panic(err)
	}
	return &RateLimiter{
		windows: cache,
		limit:   requestsPerMinute,
		period:  time.Minute,
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it fits the window.
// The remaining quota and the window reset time accompany the verdict.
func (rl *RateLimiter) Allow(key string) (allowed bool, remaining int, resetAt time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows.Get(key)
	if !ok || now.Sub(w.start) >= rl.period {
		w = &rateWindow{start: now}
		rl.windows.Add(key, w)
	}

	resetAt = w.start.Add(rl.period)
	if w.count >= rl.limit {
		return false, 0, resetAt
	}
	w.count++
	return true, rl.limit - w.count, resetAt
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Api-Key")
		if key == "" {
			key = c.ClientIP()
		}

		allowed, remaining, resetAt := rl.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if !allowed {
			retryAfter := int(resetAt.Sub(rl.now()).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			appErrors.HandleError(c, appErrors.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
