package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/medaudit/internal/observability/context"
	obslogger "github.com/smallbiznis/medaudit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/medaudit/internal/observability/metrics"
	"go.uber.org/zap"
)

// actorID returns the caller set by the auth gateway in X-Actor-ID.
func actorID(c *gin.Context) string {
	return obscontext.ActorFromContext(c.Request.Context())
}

func requestMetrics(m *obsmetrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.RecordHTTPRequest(c.Request.Context(), route, c.Writer.Status(), time.Since(start))
	}
}

// ProviderRateLimit throttles claim ingestion per provider NIT. The NIT is
// read from the body, so the body is bound here and reused by the handler.
func (s *Server) ProviderRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.guard.Enabled() {
			c.Next()
			return
		}

		var req createClaimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		c.Set(contextClaimRequestKey, &req)

		ctx := c.Request.Context()
		result, err := s.guard.AllowProvider(ctx, req.ProviderNit)
		if err != nil {
			obslogger.FromContext(ctx).Warn("provider rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			obslogger.FromContext(ctx).Info("claim ingestion throttled",
				zap.String("provider_nit", strings.TrimSpace(req.ProviderNit)),
			)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
