package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avadispatch/internal/envelope"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	Logger            observability.Logger
	// SkipPaths are never limited, e.g. probes.
	SkipPaths []string
}

// RateLimit limits inbound requests with one token bucket shared by all
// callers. Rejected requests get a 429 envelope and a Retry-After header.
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.Burst < 1 {
		config.Burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)

	skipPaths := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		if limiter.Allow() {
			c.Next()
			return
		}

		config.Logger.Warn("rate limit exceeded",
			observability.String("requestID", GetRequestID(c)),
			observability.String("path", c.Request.URL.Path),
			observability.String("clientIP", c.ClientIP()),
		)

		retryAfter := 1
		if config.RequestsPerSecond > 0 {
			retryAfter = int(math.Ceil(1 / config.RequestsPerSecond))
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))

		resp := envelope.Failure[any]("Too many requests", http.StatusTooManyRequests)
		c.AbortWithStatusJSON(resp.StatusCode, resp)
	}
}
