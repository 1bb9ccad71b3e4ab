// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/aaronaludo/chat-system/internal/model"
	"github.com/aaronaludo/chat-system/internal/service"
	"github.com/aaronaludo/chat-system/pkg/response"
	"github.com/aaronaludo/chat-system/pkg/validate"
)

// ChatStore 会话存储
// 由 service.ChatService 实现
type ChatStore interface {
	ListMessages(ctx context.Context, sessionID string) ([]model.Message, error)
	AddMessage(ctx context.Context, sessionID string, req *model.MessageCreate) (*model.Message, error)
	ClearSession(ctx context.Context, sessionID string) error
	ListActiveSessions(ctx context.Context) ([]model.SessionSummary, error)
}

// Broadcaster 向实时连接推送事件
// 由 websocket.Hub 实现
type Broadcaster interface {
	BroadcastNewMessage(sessionID string, msg *model.Message)
	BroadcastSessionCleared(sessionID string)
}

// ChatHandler 聊天会话请求处理器
// 所有写操作先落存储，成功后再广播
type ChatHandler struct {
	store ChatStore
	hub   Broadcaster
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(store ChatStore, hub Broadcaster) *ChatHandler {
	return &ChatHandler{
		store: store,
		hub:   hub,
	}
}

// ListSessions 列出活跃会话
// @Summary 活跃会话列表
// @Tags 会话
// @Produce json
// @Success 200 {object} response.Response{data=[]model.SessionSummary}
// @Router /v1/chat/sessions [get]
func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.store.ListActiveSessions(c.Request.Context())
	if err != nil {
		h.fail(c, "list sessions", "", err)
		return
	}
	response.Success(c, sessions)
}

// GetMessages 获取会话的全部消息
// 不存在或已过期的会话返回空列表
// @Summary 会话消息
// @Tags 会话
// @Produce json
// @Param session_id path string true "会话ID"
// @Success 200 {object} response.Response{data=model.SessionSnapshot}
// @Router /v1/chat/sessions/{session_id}/messages [get]
func (h *ChatHandler) GetMessages(c *gin.Context) {
	sessionID := c.Param("session_id")

	messages, err := h.store.ListMessages(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, "list messages", sessionID, err)
		return
	}
	response.Success(c, model.SessionSnapshot{SessionID: sessionID, Messages: messages})
}

// PostMessage 发送消息
// 校验、写入、广播，返回写入后的完整会话
// @Summary 发送消息
// @Tags 会话
// @Accept json
// @Produce json
// @Param session_id path string true "会话ID"
// @Param body body model.MessageCreate true "消息"
// @Success 201 {object} response.Response{data=model.SessionSnapshot}
// @Failure 422 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /v1/chat/sessions/{session_id}/messages [post]
func (h *ChatHandler) PostMessage(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req model.MessageCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		verr := validate.FromBindError(err)
		response.ValidationFailed(c, verr.Detail, gin.H{"errors": verr.Errors})
		return
	}

	ctx := c.Request.Context()
	msg, err := h.store.AddMessage(ctx, sessionID, &req)
	if err != nil {
		h.fail(c, "add message", sessionID, err)
		return
	}

	h.hub.BroadcastNewMessage(sessionID, msg)

	messages, err := h.store.ListMessages(ctx, sessionID)
	if err != nil {
		h.fail(c, "list messages", sessionID, err)
		return
	}
	response.Created(c, model.SessionSnapshot{SessionID: sessionID, Messages: messages})
}

// ClearSession 清空会话
// 幂等，清空后通知实时连接
// @Summary 清空会话
// @Tags 会话
// @Param session_id path string true "会话ID"
// @Success 204
// @Failure 503 {object} response.Response
// @Router /v1/chat/sessions/{session_id} [delete]
func (h *ChatHandler) ClearSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.store.ClearSession(c.Request.Context(), sessionID); err != nil {
		h.fail(c, "clear session", sessionID, err)
		return
	}

	h.hub.BroadcastSessionCleared(sessionID)
	response.NoContent(c)
}

// fail 存储不可用返回 503，其它错误返回 500
func (h *ChatHandler) fail(c *gin.Context, op, sessionID string, err error) {
	if errors.Is(err, service.ErrStorageUnavailable) {
		slog.Error("chat storage unavailable", "op", op, "session", sessionID, "error", err)
		response.ServiceUnavailable(c, service.StorageUnavailableDetail, nil)
		return
	}
	slog.Error("chat request failed", "op", op, "session", sessionID, "error", err)
	response.InternalError(c, "Internal server error.")
}

// RegisterRoutes 注册会话路由
// 参数:
//   - r: 路由组（/v1）
//   - admin: 会话列表使用的中间件，为空表示不校验
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup, admin ...gin.HandlerFunc) {
	chat := r.Group("/chat/sessions")
	{
		chat.GET("", append(admin, h.ListSessions)...)
		chat.GET("/:session_id/messages", h.GetMessages)
		chat.POST("/:session_id/messages", h.PostMessage)
		chat.DELETE("/:session_id", h.ClearSession)
	}
}
