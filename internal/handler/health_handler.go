package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aaronaludo/chat-system/internal/websocket"
	"github.com/aaronaludo/chat-system/pkg/response"
)

// HealthCheck 一个后端依赖的连通性检查
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// StatsProvider 提供实时连接统计
type StatsProvider interface {
	Stats() websocket.Stats
}

// HealthHandler 服务状态
type HealthHandler struct {
	stats   StatsProvider
	checks  []HealthCheck
	timeout time.Duration
}

// NewHealthHandler 创建 HealthHandler 实例
func NewHealthHandler(stats StatsProvider, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{
		stats:   stats,
		checks:  checks,
		timeout: 2 * time.Second,
	}
}

// Index 服务说明
func (h *HealthHandler) Index(c *gin.Context) {
	response.Success(c, gin.H{
		"message": "chat relay is running",
		"version": "/v1",
	})
}

// Healthz 检查全部依赖，任一失败返回 503
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	healthy := true
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			slog.Warn("health check failed", "dependency", check.Name, "error", err)
			deps[check.Name] = "unavailable"
			healthy = false
			continue
		}
		deps[check.Name] = "ok"
	}

	data := gin.H{
		"dependencies": deps,
		"live":         h.stats.Stats(),
	}
	if !healthy {
		response.ServiceUnavailable(c, "One or more dependencies are unavailable.", data)
		return
	}
	response.Success(c, data)
}

// RegisterRoutes 注册状态路由
func (h *HealthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/", h.Index)
	r.GET("/healthz", h.Healthz)
}
