package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/studypath-backend/internal/pkg/logger"
	"github.com/yungbote/studypath-backend/internal/requestdata"
)

// RequestContext resolves the calling user and a request id into the
// request context. Authentication happens upstream; this layer only
// trusts the forwarded X-User-ID header.
func RequestContext(log *logger.Logger) gin.HandlerFunc {
	mwLog := log.With("middleware", "RequestContext")
	return func(c *gin.Context) {
		rd := &requestdata.RequestData{}

		if raw := strings.TrimSpace(c.GetHeader("X-User-ID")); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				mwLog.Debug("ignoring malformed X-User-ID", "value", raw, "error", err)
			} else {
				rd.UserID = id
			}
		}

		rd.RequestID = strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if rd.RequestID == "" {
			rd.RequestID = uuid.NewString()
		}
		c.Header("X-Request-ID", rd.RequestID)

		c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	reqLog := log.With("middleware", "RequestLogger")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		rd := requestdata.GetRequestData(c.Request.Context())
		requestID := ""
		if rd != nil {
			requestID = rd.RequestID
		}
		reqLog.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
		)
	}
}
