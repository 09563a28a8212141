package middleware

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"sync"     // Visitor map guard
	"time"     // Idle eviction

	"github.com/gin-gonic/gin" // Gin web framework
	"golang.org/x/time/rate"   // Token bucket limiter
)

const visitorIdle = 5 * time.Minute // Limiters unused this long are dropped

type visitor struct {
	limiter  *rate.Limiter // Token bucket for one caller
	lastSeen time.Time     // Last request time
}

// RateLimiter throttles callers with one token bucket each
type RateLimiter struct {
	perSecond rate.Limit          // Refill rate
	burst     int                 // Bucket size
	mu        sync.Mutex          // Guards visitors
	visitors  map[string]*visitor // Limiters by caller
	lastSweep time.Time           // Last idle eviction
	now       func() time.Time    // Clock
}

// NewRateLimiter allows perMinute requests per caller with the given burst
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	perSecond := perMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1 // At least one request per second
	}
	if burst <= 0 {
		burst = 1 // At least one request at a time
	}
	return &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

// Middleware rejects callers over their budget with 429. Authenticated users are keyed by id, others by client IP.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.limiter(callerID(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next() // Proceed to the next handler
	}
}

// limiter returns the caller's bucket, creating it on first use
func (r *RateLimiter) limiter(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.lastSweep) > visitorIdle {
		for k, v := range r.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(r.visitors, k) // Evict idle caller
			}
		}
		r.lastSweep = now
	}
	v, ok := r.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.perSecond, r.burst)}
		r.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter
}

// callerID identifies the caller for rate limiting
func callerID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if id, ok := v.(uint); ok {
			return "user:" + strconv.FormatUint(uint64(id), 10)
		}
	}
	return "ip:" + c.ClientIP()
}
