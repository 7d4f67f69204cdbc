package httpkit

import (
	"net/http"
	"sync"
	"time"

	"crm-calls/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	minIdleTTL    = 10 * time.Minute
	sweepInterval = time.Minute
)

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP. Buckets idle for longer
// than it takes them to refill are dropped, so the map only holds active
// clients.
type IPRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	clock     func() time.Time
}

func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	ttl := minIdleTTL
	if r > 0 && r != rate.Inf {
		if refill := time.Duration(float64(burst) / float64(r) * float64(time.Second)); refill > ttl {
			ttl = refill
		}
	}
	return &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     r,
		burst:    burst,
		idleTTL:  ttl,
		clock:    time.Now,
	}
}

func (i *IPRateLimiter) allow(ip string) bool {
	now := i.clock()

	i.mu.Lock()
	if now.Sub(i.lastSweep) >= sweepInterval {
		i.sweepLocked(now)
	}
	l, ok := i.limiters[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(i.rate, i.burst)}
		i.limiters[ip] = l
	}
	l.lastSeen = now
	i.mu.Unlock()

	return l.lim.AllowN(now, 1)
}

func (i *IPRateLimiter) sweepLocked(now time.Time) {
	for ip, l := range i.limiters {
		if now.Sub(l.lastSeen) > i.idleTTL {
			delete(i.limiters, ip)
		}
	}
	i.lastSweep = now
}

// Len reports how many client buckets are held.
func (i *IPRateLimiter) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.limiters)
}

// Middleware rejects requests over the per-IP budget with 429.
func (i *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !i.allow(ip) {
			logger.FromGin(c).Warn("rate limit exceeded", "ip", ip, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
