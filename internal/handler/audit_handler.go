package handler

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aaronaludo/chat-system/internal/model"
	"github.com/aaronaludo/chat-system/pkg/response"
)

// AuditQuerier 查询审计记录
// 由 repository.AuditRepository 实现
type AuditQuerier interface {
	ListBySession(ctx context.Context, sessionID string, page, pageSize int) ([]model.AuditRecord, int64, error)
}

// AuditHandler 审计记录查询处理器，只在启用 MySQL 时注册
type AuditHandler struct {
	audit AuditQuerier
}

// NewAuditHandler 创建 AuditHandler 实例
func NewAuditHandler(audit AuditQuerier) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// AuditListResponse 审计记录分页响应
type AuditListResponse struct {
	Records  []model.AuditRecord `json:"records"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// ListRecords 分页获取会话的审计记录
// @Summary 会话审计记录
// @Tags 会话
// @Security Bearer
// @Produce json
// @Param session_id path string true "会话ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=AuditListResponse}
// @Router /v1/chat/sessions/{session_id}/audit [get]
func (h *AuditHandler) ListRecords(c *gin.Context) {
	sessionID := c.Param("session_id")

	// 解析分页参数
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	records, total, err := h.audit.ListBySession(c.Request.Context(), sessionID, page, pageSize)
	if err != nil {
		slog.Error("audit query failed", "session", sessionID, "error", err)
		response.ServiceUnavailable(c, "Audit storage backend is unavailable. Please try again later.", nil)
		return
	}
	if records == nil {
		records = []model.AuditRecord{}
	}

	response.Success(c, AuditListResponse{
		Records:  records,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// RegisterRoutes 注册审计路由，admin 为管理员校验中间件
func (h *AuditHandler) RegisterRoutes(r *gin.RouterGroup, admin ...gin.HandlerFunc) {
	r.GET("/chat/sessions/:session_id/audit", append(admin, h.ListRecords)...)
}
