// Package websocket 提供 WebSocket 通信功能
// 每个会话维护一组实时连接，消息写入存储成功后推送给该会话的全部连接
package websocket

import (
	"github.com/aaronaludo/chat-system/internal/model"
	"github.com/aaronaludo/chat-system/pkg/validate"
)

// 推送事件类型
const (
	TypeMessageCreated = "message.created" // 新消息
	TypeSessionCleared = "session.cleared" // 会话被清空
	TypeSessionSync    = "session.sync"    // 连接建立后的完整快照
	TypeError          = "error"           // 载荷校验失败，只发给发送方
)

// MessageCreatedEvent 新消息事件
type MessageCreatedEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Message   *model.Message `json:"message"`
}

// SessionClearedEvent 会话清空事件，不带消息内容
type SessionClearedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SessionSyncEvent 完整快照事件
type SessionSyncEvent struct {
	Type    string                `json:"type"`
	Session model.SessionSnapshot `json:"session"`
}

// ErrorEvent 载荷被拒绝
type ErrorEvent struct {
	Type   string                `json:"type"`
	Detail string                `json:"detail"`
	Errors []validate.FieldError `json:"errors"`
}

// NewMessageCreatedEvent 创建新消息事件
func NewMessageCreatedEvent(sessionID string, msg *model.Message) *MessageCreatedEvent {
	return &MessageCreatedEvent{Type: TypeMessageCreated, SessionID: sessionID, Message: msg}
}

// NewSessionClearedEvent 创建会话清空事件
func NewSessionClearedEvent(sessionID string) *SessionClearedEvent {
	return &SessionClearedEvent{Type: TypeSessionCleared, SessionID: sessionID}
}

// NewSessionSyncEvent 创建快照事件
// messages 为 nil 时输出空数组
func NewSessionSyncEvent(sessionID string, messages []model.Message) *SessionSyncEvent {
	if messages == nil {
		messages = []model.Message{}
	}
	return &SessionSyncEvent{
		Type:    TypeSessionSync,
		Session: model.SessionSnapshot{SessionID: sessionID, Messages: messages},
	}
}

// NewErrorEvent 根据校验错误创建错误事件
func NewErrorEvent(verr *validate.Error) *ErrorEvent {
	errs := verr.Errors
	if errs == nil {
		errs = []validate.FieldError{}
	}
	return &ErrorEvent{Type: TypeError, Detail: verr.Detail, Errors: errs}
}

// Event 客户端解析推送事件时使用的通用结构
// 根据 Type 决定哪些字段有值
type Event struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Message   *model.Message         `json:"message,omitempty"`
	Session   *model.SessionSnapshot `json:"session,omitempty"`
	Detail    string                 `json:"detail,omitempty"`
	Errors    []validate.FieldError  `json:"errors,omitempty"`
}
