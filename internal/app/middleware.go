package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/pkg/logger"
)

// RequestIDHeader is the HTTP header for request tracing.
const RequestIDHeader = "X-Request-ID"

const ctxKeyRequestID = "request_id"

// requestID reuses the caller's X-Request-ID or mints a UUIDv7.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			id, _ := uuid.NewV7()
			rid = id.String()
		}
		c.Set(ctxKeyRequestID, rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Next()
	}
}

// accessLog logs every request once it completes. Upgraded websocket
// requests are logged when the connection closes.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ctxKeyRequestID)),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("Request failed", fields...)
			return
		}
		logger.Debug("Request completed", fields...)
	}
}

// exceptWebSocket runs mw on plain HTTP requests only. Upgrade requests skip
// it so the websocket server applies gateway.allowed_origins itself.
func exceptWebSocket(mw gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isWebSocketUpgrade(c.Request) {
			c.Next()
			return
		}
		mw(c)
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, token := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
			return true
		}
	}
	return false
}
