// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the per-caller token buckets. Every caller owns two
// buckets: one for reads (GET, HEAD, OPTIONS) and a smaller one for workflow
// writes, so polling a ticket list never eats into the budget for approving
// it. Replays served by Idempotency do not consume tokens. Limits are
// process-local.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimits sizes the two bucket classes. Burst values below 1 become 1.
type RateLimits struct {
	ReadRPS    float64
	ReadBurst  int
	WriteRPS   float64
	WriteBurst int
}

// bucketClass is the budget a request draws from.
type bucketClass string

const (
	classRead  bucketClass = "read"
	classWrite bucketClass = "write"
)

func classOf(method string) bucketClass {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return classRead
	}
	return classWrite
}

// codeRateLimited is the error code of a 429. It matches the code the
// handlers package uses for the same status.
const codeRateLimited = "too_many_requests"

// CallerKey names the caller for bucketing: "user:<name>" for a verified
// token identity, else "ip:<client ip>". Header identities are not trusted
// here since a client could rotate the name to get fresh buckets.
func CallerKey(c *gin.Context) string {
	if id, ok := IdentityFrom(c); ok && id.Verified {
		return "user:" + id.Name
	}
	return "ip:" + c.ClientIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds the buckets of every caller seen recently. Buckets idle
// for longer than ttl are swept every sweepEvery lookups. Safe for concurrent
// use.
type RateLimiter struct {
	limits  map[bucketClass]rateLimit
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	ttl        time.Duration
	lookups    uint64
	sweepEvery uint64
}

type rateLimit struct {
	rps   rate.Limit
	burst int
}

// NewRateLimiter builds a limiter with the given read and write budgets.
func NewRateLimiter(l RateLimits) *RateLimiter {
	return &RateLimiter{
		limits: map[bucketClass]rateLimit{
			classRead:  {rps: rate.Limit(l.ReadRPS), burst: max(1, l.ReadBurst)},
			classWrite: {rps: rate.Limit(l.WriteRPS), burst: max(1, l.WriteBurst)},
		},
		buckets:    make(map[string]*bucket),
		now:        time.Now,
		ttl:        10 * time.Minute,
		sweepEvery: 5000,
	}
}

// limiterFor returns the bucket of caller in class, creating it on first use.
// The sweep runs before the lookup so an idle bucket is dropped even when it
// is the one being fetched.
func (rl *RateLimiter) limiterFor(caller string, class bucketClass) *rate.Limiter {
	now := rl.now()
	key := string(class) + "|" + caller

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= rl.sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rl.limits[class]
	b := &bucket{limiter: rate.NewLimiter(lim.rps, lim.burst), lastSeen: now}
	rl.buckets[key] = b
	return b.limiter
}

// IsRateBypass reports whether Idempotency is replaying a stored response
// for this request.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limits. A denied request gets 429 too_many_requests with
// Retry-After set to the whole seconds until one token is available.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		class := classOf(c.Request.Method)
		lim := rl.limiterFor(CallerKey(c), class)
		now := rl.now()
		if lim.AllowN(now, 1) {
			c.Next()
			return
		}

		LoggerFrom(c).Debug().Str("bucket", string(class)).Msg("rate limited")
		c.Header("Retry-After", strconv.Itoa(retryAfter(lim, now)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       codeRateLimited,
			"message":    "rate limit exceeded",
		})
	}
}

// retryAfter peeks at the wait for the next token without consuming it.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return 1
	}
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return max(1, int(math.Ceil(delay.Seconds())))
}
