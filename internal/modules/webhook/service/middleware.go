package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"deux_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const requestIDKey = "request_id"

// RequestID прокидывает X-Request-ID или выдаёт новый.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

const (
	limiterIdleTTL = 5 * time.Minute
	limiterMaxIPs  = 10000
)

// IPLimiter: лимит запросов на IP. Бакет IP живёт, пока по нему идут
// запросы, и вытесняется после limiterIdleTTL тишины или по размеру.
type IPLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

func NewIPLimiter(perSecond float64, burst int) *IPLimiter {
	return newIPLimiter(perSecond, burst, limiterMaxIPs, limiterIdleTTL)
}

func newIPLimiter(perSecond float64, burst, size int, idle time.Duration) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &IPLimiter{
		limit:    limit,
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](size, nil, idle),
	}
}

func (l *IPLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters.Get(ip)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
	}
	// повторный Add продлевает срок записи
	l.limiters.Add(ip, lim)
	return lim
}

func (l *IPLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.get(ip).Allow() {
			logger.Warn("[WEBHOOK] rate limit exceeded for %s", ip)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  "error",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// Timeout ограничивает контекст запроса: публикация в брокер его уважает.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
