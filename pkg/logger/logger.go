// Package logger 构建进程使用的结构化日志
package logger

import (
	"io"
	"log/slog"
	"strings"
)

// New 根据级别和格式创建 slog.Logger
// 参数:
//   - level: debug / info / warn / error，无法识别时为 info
//   - format: json / text，无法识别时为 json
//   - w: 输出目标
func New(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel 解析日志级别
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
