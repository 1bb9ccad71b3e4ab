package model

import (
	"time"
)

// AuditRecord 消息审计记录
// 对应数据库表 chat_audit_records
// 每条成功写入会话存储的消息对应一条记录，只追加不修改
type AuditRecord struct {
	// ID 自增主键
	ID int64 `gorm:"primaryKey" json:"id"`

	// MessageID 会话存储分配的消息ID
	MessageID string `gorm:"size:64;uniqueIndex;not null" json:"message_id"`

	// SessionID 所属会话
	SessionID string `gorm:"size:255;index;not null" json:"session_id"`

	Role    string `gorm:"size:20;not null" json:"role"`
	Content string `gorm:"type:text;not null" json:"content"`
	Author  string `gorm:"size:64" json:"author"`

	// StoredAt 消息创建时间
	StoredAt time.Time `gorm:"index" json:"stored_at"`
}

// TableName 指定表名
func (AuditRecord) TableName() string {
	return "chat_audit_records"
}

// NewAuditRecord 根据消息生成审计记录
func NewAuditRecord(sessionID string, msg *Message) *AuditRecord {
	return &AuditRecord{
		MessageID: msg.ID,
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Author:    msg.Author(),
		StoredAt:  msg.CreatedAt,
	}
}
