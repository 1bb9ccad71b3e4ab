// Package model 定义了聊天会话相关的数据结构
package model

import (
	"time"
)

// Role 消息角色
type Role string

// 消息角色常量
const (
	RoleUser      Role = "user"      // 用户消息
	RoleAssistant Role = "assistant" // AI 助手响应
)

// Valid 判断角色是否属于允许的集合
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message 聊天消息
// 创建后不可修改，ID 和 CreatedAt 只由会话存储在追加时生成
type Message struct {
	// ID 全局唯一的不透明字符串
	ID string `json:"id"`

	// Role 消息角色: user / assistant
	Role Role `json:"role"`

	// Content 消息内容，非空
	Content string `json:"content"`

	// AuthorName 作者名（可选），去除首尾空白后为空则视为缺省
	AuthorName *string `json:"author_name,omitempty"`

	// CreatedAt 创建时间（UTC）
	CreatedAt time.Time `json:"created_at"`
}

// Author 返回作者名，缺省时为空字符串
func (m *Message) Author() string {
	if m.AuthorName == nil {
		return ""
	}
	return *m.AuthorName
}

// MessageCreate 创建消息的请求
// 由校验层解析并校验后交给会话存储
type MessageCreate struct {
	Role       Role    `json:"role" binding:"required,oneof=user assistant"`
	Content    string  `json:"content" binding:"required,min=1,max=4000"`
	AuthorName *string `json:"author_name" binding:"omitempty,max=64"`
}

// SessionSnapshot 会话的完整消息记录
type SessionSnapshot struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

// SessionSummary 活跃会话摘要
type SessionSummary struct {
	SessionID    string `json:"session_id"`
	MessageCount int64  `json:"message_count"`
}
