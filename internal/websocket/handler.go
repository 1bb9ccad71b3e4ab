package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aaronaludo/chat-system/internal/model"
	"github.com/aaronaludo/chat-system/internal/service"
	"github.com/aaronaludo/chat-system/pkg/util"
	"github.com/aaronaludo/chat-system/pkg/validate"
)

// MessageStore 实时连接需要的会话存储操作
// 由 service.ChatService 实现
type MessageStore interface {
	ListMessages(ctx context.Context, sessionID string) ([]model.Message, error)
	AddMessage(ctx context.Context, sessionID string, req *model.MessageCreate) (*model.Message, error)
}

// Handler 处理 WebSocket 连接
type Handler struct {
	hub       *Hub
	store     MessageStore
	upgrader  websocket.Upgrader
	writeWait time.Duration
}

// NewHandler 创建 WebSocket Handler
// 参数:
//   - hub: 连接注册表
//   - store: 会话存储
//   - allowedOrigins: 允许的 Origin，包含 "*" 时不限制
//   - writeWait: 单次投递超时
func NewHandler(hub *Hub, store MessageStore, allowedOrigins []string, writeWait time.Duration) *Handler {
	return &Handler{
		hub:   hub,
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		writeWait: writeWait,
	}
}

// checkOrigin 没有 Origin 头的请求（非浏览器客户端）直接放行
func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	_, wildcard := set["*"]

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleSessionWS 处理会话的 WebSocket 连接
// 路由: GET /chat/sessions/:session_id/ws
func (h *Handler) HandleSessionWS(c *gin.Context) {
	sessionID := c.Param("session_id")

	// 升级 HTTP 连接为 WebSocket，失败时 upgrader 已写回 HTTP 错误
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}

	client := NewClient(conn, sessionID, h.writeWait)
	h.serve(c.Request.Context(), client)
}

// serve 驱动单个连接的生命周期
// Connecting: 注册并读取快照；读取失败直接关闭（1011），不进入 Live
// Live: 发送快照后循环读取入站消息
// Closed: 无论何种原因退出，都从注册表移除
func (h *Handler) serve(ctx context.Context, client *Client) {
	sessionID := client.SessionID()

	// 先注册再读快照，注册之后的推送不会遗漏
	h.hub.Connect(sessionID, client)
	defer func() {
		h.hub.Disconnect(sessionID, client)
		client.Close(websocket.CloseNormalClosure, "")
		slog.Info("websocket closed", "session", sessionID, "conn", client.ID())
	}()

	messages, err := h.store.ListMessages(ctx, sessionID)
	if err != nil {
		h.closeUnavailable(client, err)
		return
	}

	// 快照发出前到达的推送由 Client 缓存，快照之后补发
	h.hub.SendSnapshot(client, sessionID, messages)
	if client.State() != StateLive {
		return
	}
	slog.Info("websocket live", "session", sessionID, "conn", client.ID(), "messages", len(messages))

	go client.PingLoop()

	err = client.ReadPump(func(data []byte) {
		h.handleFrame(ctx, client, data)
	})
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
		client.State() != StateClosed {
		slog.Warn("websocket read error", "session", sessionID, "conn", client.ID(), "error", err)
	}
}

// handleFrame 处理一条入站消息
// 校验失败只回复发送方；存储成功后再广播
func (h *Handler) handleFrame(ctx context.Context, client *Client, data []byte) {
	sessionID := client.SessionID()

	req, err := validate.DecodeMessageCreate(data)
	if err != nil {
		slog.Debug("websocket payload rejected", "session", sessionID, "conn", client.ID(),
			"payload", util.TruncateString(string(data), 200))
		h.hub.deliver(sessionID, client, NewErrorEvent(validate.FromBindError(err)))
		return
	}

	msg, err := h.store.AddMessage(ctx, sessionID, req)
	if err != nil {
		if errors.Is(err, service.ErrStorageUnavailable) {
			h.closeUnavailable(client, err)
			return
		}
		slog.Error("websocket add message failed", "session", sessionID, "conn", client.ID(), "error", err)
		return
	}

	h.hub.BroadcastNewMessage(sessionID, msg)
}

// closeUnavailable 存储不可用时以 1011 关闭连接
func (h *Handler) closeUnavailable(client *Client, err error) {
	slog.Error("chat storage unavailable, closing websocket",
		"session", client.SessionID(), "conn", client.ID(), "error", err)
	h.hub.Disconnect(client.SessionID(), client)
	client.Close(websocket.CloseInternalServerErr, service.StorageUnavailableDetail)
}

// RegisterRoutes 注册 WebSocket 路由
// WebSocket 路由不经过管理员认证
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/chat/sessions/:session_id/ws", h.HandleSessionWS)
}
