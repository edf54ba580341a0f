package middlewares

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"election-service/internal/api/models"
)

// RateLimiter is a per-client token bucket. Each client starts with burst tokens
// and regains rate tokens per minute.
type RateLimiter struct {
	visitors map[string]*visitor
	mutex    sync.Mutex
	rate     float64
	burst    float64
	idle     time.Duration
	swept    time.Time
	now      func() time.Time
}

type visitor struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per minute
func NewRateLimiter(rate, burst int) *RateLimiter {
	if rate <= 0 {
		rate = 100
	}
	if burst < rate {
		burst = rate
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     float64(rate),
		burst:    float64(burst),
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// RateLimit middleware rejects clients that ran out of tokens
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := limiter.Allow(c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.")
			return
		}
		c.Next()
	}
}

// Allow takes one token for key. When none is left it returns how long until one is.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	rl.sweep(now)

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{tokens: rl.burst, lastSeen: now}
		rl.visitors[key] = v
	}

	perSecond := rl.rate / 60
	v.tokens += now.Sub(v.lastSeen).Seconds() * perSecond
	if v.tokens > rl.burst {
		v.tokens = rl.burst
	}
	v.lastSeen = now

	if v.tokens < 1 {
		missing := 1 - v.tokens
		return false, time.Duration(missing / perSecond * float64(time.Second))
	}
	v.tokens--
	return true, 0
}

// sweep forgets visitors idle for longer than rl.idle. Caller holds the mutex.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.swept) < rl.idle {
		return
	}
	rl.swept = now
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.visitors, key)
		}
	}
}
