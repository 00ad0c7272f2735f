package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	enginedomain "github.com/siteloom/growth/internal/engine/domain"
	"github.com/siteloom/growth/internal/observability/logger"
	obsmetrics "github.com/siteloom/growth/internal/observability/metrics"
	"go.uber.org/zap"
)

const idempotencyKeyHeader = "X-Idempotency-Key"

const (
	rateLimitReasonUserRate     = "user-rate"
	rateLimitReasonEndpointRate = "endpoint-rate"
)

// AppendEvent is the single ingest surface for growth activity. The body
// carries the event; the idempotency key comes from the body or, when the
// body leaves it blank, from the X-Idempotency-Key header.
func (s *Server) AppendEvent(c *gin.Context) {
	var input enginedomain.AppendEventInput
	if err := c.ShouldBindJSON(&input); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if strings.TrimSpace(input.IdempotencyKey) == "" {
		input.IdempotencyKey = strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
	}
	if kind := strings.TrimSpace(input.Kind); kind != "" {
		c.Set("event_kind", kind)
	}

	result, err := s.engineSvc.AppendEvent(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// EventIngestRateLimit throttles the ingest endpoint per acting user and
// per endpoint before the engine does any work. With the limiter disabled
// every request passes.
func (s *Server) EventIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.eventLimiter == nil || !s.eventLimiter.Enabled() {
			c.Next()
			return
		}

		actor, ok := s.actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		result, err := s.eventLimiter.AllowUser(ctx, actor)
		if err != nil {
			logger.FromContext(ctx).Warn("event ingest user rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyEventIngestRateLimit(c, endpoint, rateLimitReasonUserRate, result.RetryAfter.Seconds(), s.obsMetrics)
			return
		}

		result, err = s.eventLimiter.AllowEndpoint(ctx, endpoint)
		if err != nil {
			logger.FromContext(ctx).Warn("event ingest endpoint rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyEventIngestRateLimit(c, endpoint, rateLimitReasonEndpointRate, result.RetryAfter.Seconds(), s.obsMetrics)
			return
		}

		recordRateLimitAllowed(c, endpoint, s.obsMetrics)
		c.Next()
	}
}

func denyEventIngestRateLimit(c *gin.Context, endpoint, reason string, retryAfterSeconds float64, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("event ingest rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	if metrics != nil {
		metrics.RecordRateLimitDenied(ctx, endpoint, reason)
	}

	retryAfter := int(retryAfterSeconds)
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(c *gin.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(c.Request.Context(), endpoint)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
