package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/server/auth"
)

const (
	requestIDKey = "request_id"
	ownerKey     = "owner_id"
)

// requestID keeps a client supplied X-Request-ID or generates one, and
// echoes it on the response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(common.RequestIDHeaderName)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(common.RequestIDHeaderName, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		s.opts.Metrics.RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		s.log.Info(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", elapsed,
			"request_id", c.GetString(requestIDKey),
		)
	}
}

// requireReady answers 503 until the catalog is migrated.
func (s *Server) requireReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Ready != nil && !s.opts.Ready() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "catalog not ready"})
			return
		}
		c.Next()
	}
}

// ownerFromToken records the owner named by an optional bearer token. A
// present but invalid token is rejected.
func (s *Server) ownerFromToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.opts.JWTSecret) == 0 {
			c.Next()
			return
		}
		token, ok, err := auth.BearerToken(c.GetHeader(common.AuthorizationHeaderName))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.Next()
			return
		}
		owner, err := auth.OwnerFromToken(token, s.opts.JWTSecret)
		if err != nil {
			msg := common.ErrInvalidToken.Error()
			if errors.Is(err, common.ErrTokenExpired) {
				msg = common.ErrTokenExpired.Error()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

// rateLimit throttles uploads per client address.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiters == nil {
			c.Next()
			return
		}
		r := s.limiters.get(c.ClientIP()).Reserve()
		if d := r.Delay(); d > 0 {
			r.Cancel()
			retryAfter := int(math.Ceil(d.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterStore struct {
	mu        sync.Mutex
	r         rate.Limit
	b         int
	limiters  map[string]*clientLimiter
	lastPrune time.Time
	now       func() time.Time
}

func newLimiterStore(perSecond float64, burst int) *limiterStore {
	if burst < 1 {
		burst = 1
	}
	return &limiterStore{
		r:        rate.Limit(perSecond),
		b:        burst,
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
	}
}

func (s *limiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastPrune) > limiterIdle {
		for k, l := range s.limiters {
			if now.Sub(l.lastSeen) > limiterIdle {
				delete(s.limiters, k)
			}
		}
		s.lastPrune = now
	}

	l, ok := s.limiters[ip]
	if !ok {
		l = &clientLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter
}
