package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"repo-source-web/internal/infrastructure/metrics"
	"repo-source-web/pkg/logger"
)

const (
	// RequestIDKey 是请求 ID 在 gin.Context 中的键
	RequestIDKey    = "RequestID"
	requestIDHeader = "X-Request-ID"
)

// RequestID 为每个请求分配请求 ID，优先使用客户端传入的值
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Logger 使用 zap 记录请求日志，日志均带有请求 ID
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		reqLogger := logger.WithFields(zap.String("request_id", c.GetString(RequestIDKey)))
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			reqLogger.Error("请求处理失败", fields...)
		case status >= 400:
			reqLogger.Warn("请求异常", fields...)
		default:
			reqLogger.Info("请求完成", fields...)
		}
	}
}

// Metrics 记录请求计数与耗时，以路由模板作为标签
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
