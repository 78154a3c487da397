package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/pfmea/internal/metrics"
	"github.com/osvaldoandrade/pfmea/internal/ratelimit"
	"github.com/osvaldoandrade/pfmea/pkg/config"
)

// RateLimitSubmit throttles pipeline submissions per session (or client IP
// when no session is known).
func RateLimitSubmit(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitSession(lim, "session", "submit", cfg.RateLimit.Submit)
}

func rateLimitSession(lim ratelimit.Limiter, scope string, operation string, bcfg config.RateLimitBucketConfig) gin.HandlerFunc {
	bucket := ratelimit.Bucket{RequestsPerMinute: bcfg.RequestsPerMinute, BurstSize: bcfg.BurstSize}
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		subject := SessionID(c)
		if subject == "" {
			subject = c.ClientIP()
		}

		dec, err := lim.Allow(c.Request.Context(), scope, subject, bucket)
		if err != nil {
			// Fail open to avoid turning Redis hiccups into outages.
			Logger(c).Warn("rate limit check failed", "scope", scope, "op", operation, "err", err)
			c.Next()
			return
		}
		if dec.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			c.Next()
			return
		}

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, operation).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "Too many submissions. Please wait before trying again.",
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}
