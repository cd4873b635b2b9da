package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/itembills_sync/utils"
	"github.com/sirupsen/logrus"
)

const CorrelationHeader = "x-correlation-id"

// CorrelationMiddleware carries the caller's correlation id, or a fresh one, in
// the request context and echoes it in the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if cid := c.GetHeader(CorrelationHeader); cid != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, cid)
		}
		ctx, cid := utils.EnsureCorrelationId(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(CorrelationHeader, cid)
		c.Next()
	}
}

func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		operator, _ := utils.GetOperatorFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
			"operator":       operator,
		}).Info("request")
	}
}
