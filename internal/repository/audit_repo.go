// Package repository 提供数据访问层的实现
package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/aaronaludo/chat-system/internal/model"
)

// AuditRepository 审计记录数据访问层
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository 创建 AuditRepository 实例
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Save 写入一条审计记录
// 实现 service.AuditSink
func (r *AuditRepository) Save(ctx context.Context, rec *model.AuditRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// Ping 检查数据库连接
func (r *AuditRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ListBySession 分页获取会话的审计记录
// 按写入时间正序，会话日志过期或被清空后仍可查询
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//   - page: 页码，从 1 开始
//   - pageSize: 每页数量
//
// 返回:
//   - []model.AuditRecord: 记录列表
//   - int64: 总数量
//   - error: 数据库错误
func (r *AuditRepository) ListBySession(ctx context.Context, sessionID string, page, pageSize int) ([]model.AuditRecord, int64, error) {
	var records []model.AuditRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AuditRecord{}).Where("session_id = ?", sessionID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("stored_at ASC").
		Order("id ASC").
		Offset(offset).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}
