package websocket

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aaronaludo/chat-system/internal/model"
)

// Conn 一个实时连接
// Send 必须有超时上限；返回错误即视为连接已失效
type Conn interface {
	ID() string
	Send(v any) error
	Close(code int, reason string) error
}

// snapshotConn 快照发出前缓存推送的连接，由 Client 实现
type snapshotConn interface {
	Conn
	SendSnapshot(event *SessionSyncEvent) error
}

// Hub 是 WebSocket 连接的中心管理器
// 负责：
// 1. 维护 session_id -> 实时连接集合
// 2. 向会话的全部连接推送事件
// 3. 移除投递失败的连接
//
// 推送时先在锁内复制连接集合，再在锁外投递，
// 单个慢连接不会阻塞 Connect/Disconnect
type Hub struct {
	// 会话到连接集合的映射，集合为空时删除 key
	sessions map[string]map[Conn]struct{}

	// 互斥锁，保护并发访问
	mu sync.RWMutex
}

// NewHub 创建 Hub 实例
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[Conn]struct{}),
	}
}

// Connect 将连接注册到会话
// 不负责发送快照，调用方在 Connect 返回后读取存储并调用 SendSnapshot
func (h *Hub) Connect(sessionID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.sessions[sessionID]
	if !ok {
		conns = make(map[Conn]struct{})
		h.sessions[sessionID] = conns
	}
	conns[conn] = struct{}{}

	slog.Debug("websocket connected", "session", sessionID, "conn", conn.ID(), "session_conns", len(conns))
}

// Disconnect 将连接从会话中移除
// 幂等；集合为空时删除整个会话
func (h *Hub) Disconnect(sessionID string, conn Conn) {
	h.remove(sessionID, conn)
}

func (h *Hub) remove(sessionID string, conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	if _, ok := conns[conn]; !ok {
		return false
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.sessions, sessionID)
	}

	slog.Debug("websocket disconnected", "session", sessionID, "conn", conn.ID(), "session_conns", len(conns))
	return true
}

// BroadcastNewMessage 向会话的全部连接推送新消息
func (h *Hub) BroadcastNewMessage(sessionID string, msg *model.Message) {
	h.broadcast(sessionID, NewMessageCreatedEvent(sessionID, msg))
}

// BroadcastSessionCleared 向会话的全部连接推送清空事件
func (h *Hub) BroadcastSessionCleared(sessionID string) {
	h.broadcast(sessionID, NewSessionClearedEvent(sessionID))
}

// SendSnapshot 向单个连接发送完整快照
func (h *Hub) SendSnapshot(conn Conn, sessionID string, messages []model.Message) {
	event := NewSessionSyncEvent(sessionID, messages)
	sc, ok := conn.(snapshotConn)
	if !ok {
		h.deliver(sessionID, conn, event)
		return
	}
	if err := sc.SendSnapshot(event); err != nil {
		h.drop(sessionID, conn, err)
	}
}

// broadcast 投递到调用时刻的连接快照
// 投递期间加入的连接不会收到本次事件，离开的连接也不会被重复投递
// 各连接并行投递，全部结束后返回
func (h *Hub) broadcast(sessionID string, event any) {
	conns := h.snapshot(sessionID)
	if len(conns) == 0 {
		return
	}
	if len(conns) == 1 {
		h.deliver(sessionID, conns[0], event)
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(conns))
	for _, conn := range conns {
		go func(conn Conn) {
			defer wg.Done()
			h.deliver(sessionID, conn, event)
		}(conn)
	}
	wg.Wait()
}

func (h *Hub) snapshot(sessionID string) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.sessions[sessionID]
	out := make([]Conn, 0, len(conns))
	for conn := range conns {
		out = append(out, conn)
	}
	return out
}

// deliver 投递单个事件
// 失败的连接立即移除并关闭，不重试
func (h *Hub) deliver(sessionID string, conn Conn, event any) {
	if err := conn.Send(event); err != nil {
		h.drop(sessionID, conn, err)
	}
}

// drop 投递失败的连接视为已断开
func (h *Hub) drop(sessionID string, conn Conn, err error) {
	slog.Warn("websocket delivery failed, dropping connection",
		"session", sessionID, "conn", conn.ID(), "error", err)
	h.remove(sessionID, conn)
	conn.Close(websocket.CloseGoingAway, "delivery failed")
}

// Close 关闭所有连接并清空注册表
// 用于进程退出
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]map[Conn]struct{})
	h.mu.Unlock()

	for _, conns := range sessions {
		for conn := range conns {
			conn.Close(websocket.CloseGoingAway, "server shutting down")
		}
	}
}

// Stats 注册表统计
type Stats struct {
	Sessions    int `json:"sessions"`
	Connections int `json:"connections"`
}

// Stats 返回当前有实时连接的会话数和连接总数
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{Sessions: len(h.sessions)}
	for _, conns := range h.sessions {
		stats.Connections += len(conns)
	}
	return stats
}

// ConnectionCount 返回会话的实时连接数
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
