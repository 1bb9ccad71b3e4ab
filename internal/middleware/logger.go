package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aaronaludo/chat-system/pkg/response"
)

// LoggerMiddleware 创建请求日志中间件
// 记录每个请求的方法、路径、状态码和耗时
// 参数:
//   - logger: 结构化日志
//
// 返回:
//   - gin.HandlerFunc: Gin 中间件函数
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 记录请求开始时间
		start := time.Now()

		// 处理请求
		c.Next()

		// WebSocket 连接在这里才返回，耗时即连接时长
		statusCode := c.Writer.Status()
		attrs := []slog.Attr{
			slog.Int("status", statusCode),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("client_ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
		}
		if raw := c.Request.URL.RawQuery; raw != "" {
			attrs = append(attrs, slog.String("query", raw))
		}
		if admin := GetAdmin(c); admin != "" {
			attrs = append(attrs, slog.String("admin", admin))
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			attrs = append(attrs, slog.String("errors", errs))
		}

		// 根据状态码选择日志级别
		// 400-499: 客户端错误
		// 500-599: 服务端错误
		level := slog.LevelInfo
		switch {
		case statusCode >= http.StatusInternalServerError:
			level = slog.LevelError
		case statusCode >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		logger.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}

// RecoveryMiddleware 创建 panic 恢复中间件
// 捕获处理器中的 panic，防止程序崩溃
func RecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", "path", c.Request.URL.Path, "panic", err)

				if !c.Writer.Written() {
					response.InternalError(c, "Internal server error.")
				}
				c.Abort()
			}
		}()

		c.Next()
	}
}
