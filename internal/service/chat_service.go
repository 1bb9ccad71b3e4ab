// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aaronaludo/chat-system/internal/config"
	"github.com/aaronaludo/chat-system/internal/model"
	"github.com/aaronaludo/chat-system/pkg/util"
)

// ErrStorageUnavailable 后端存储不可用
// 与"会话不存在"区分：不存在的会话视为空会话，不是错误
var ErrStorageUnavailable = errors.New("chat storage backend is unavailable")

// StorageUnavailableDetail 存储不可用时返回给客户端的说明
// HTTP 503 响应和 WebSocket 1011 关闭帧共用
const StorageUnavailableDetail = "Chat storage backend is unavailable. Please try again later."

// SessionLog 会话日志的后端存储
// 由 cache.RedisCache 实现
type SessionLog interface {
	AppendWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (int64, error)
	Range(ctx context.Context, key string) ([]string, error)
	Delete(ctx context.Context, key string) error
	ScanLengths(ctx context.Context, prefix string, count int64, fn func(key string, length int64)) error
}

// AuditRecorder 接收已成功存储的消息
// 实现方不得阻塞调用方，也不得返回错误
type AuditRecorder interface {
	Record(sessionID string, msg *model.Message)
}

// ChatService 会话消息存储
// 唯一负责分配消息 ID 和创建时间；不做进程内加锁，追加与过期刷新的原子性由 Redis 事务保证
type ChatService struct {
	log       SessionLog
	ttl       time.Duration
	prefix    string
	scanCount int64
	audit     AuditRecorder
	now       func() time.Time
}

// NewChatService 创建 ChatService 实例
// audit 可以为 nil
func NewChatService(log SessionLog, cfg config.ChatConfig, audit AuditRecorder) *ChatService {
	return &ChatService{
		log:       log,
		ttl:       cfg.SessionTTL(),
		prefix:    cfg.KeyPrefix,
		scanCount: cfg.ScanCount,
		audit:     audit,
		now:       time.Now,
	}
}

func (s *ChatService) sessionKey(sessionID string) string {
	return s.prefix + sessionID
}

// ListMessages 按追加顺序返回会话的全部消息
// 会话不存在或已过期时返回空切片；只读，不影响过期时间
func (s *ChatService) ListMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	raw, err := s.log.Range(ctx, s.sessionKey(sessionID))
	if err != nil {
		return nil, storageError("list messages", err)
	}

	messages := make([]model.Message, 0, len(raw))
	for _, entry := range raw {
		var msg model.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			slog.Warn("skipping corrupt message entry", "session", sessionID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// AddMessage 创建消息并追加到会话日志
// 生成新的 ID 和 UTC 时间，追加后将整个日志的过期时间重置为完整 TTL
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//   - req: 已校验的创建请求
//
// 返回:
//   - *model.Message: 完整的消息
//   - error: 存储不可用时返回 ErrStorageUnavailable
func (s *ChatService) AddMessage(ctx context.Context, sessionID string, req *model.MessageCreate) (*model.Message, error) {
	msg := &model.Message{
		ID:         util.NewID(),
		Role:       req.Role,
		Content:    req.Content,
		AuthorName: util.TrimToNil(req.AuthorName),
		CreatedAt:  s.now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	if _, err := s.log.AppendWithTTL(ctx, s.sessionKey(sessionID), data, s.ttl); err != nil {
		return nil, storageError("append message", err)
	}

	// 审计失败不影响存储和投递
	if s.audit != nil {
		s.audit.Record(sessionID, msg)
	}
	return msg, nil
}

// ClearSession 立即删除会话的全部消息
// 幂等：会话不存在或已过期时同样成功
func (s *ChatService) ClearSession(ctx context.Context, sessionID string) error {
	if err := s.log.Delete(ctx, s.sessionKey(sessionID)); err != nil {
		return storageError("clear session", err)
	}
	return nil
}

// ListActiveSessions 遍历所有会话日志，返回非空会话及其消息数
// 结果按 session_id 升序排列
// 遍历是增量进行的：期间被修改的会话可能出现也可能不出现，
// 但每个会话的计数来自单次 LLEN，不会重复计算
func (s *ChatService) ListActiveSessions(ctx context.Context) ([]model.SessionSummary, error) {
	sessions := make([]model.SessionSummary, 0)
	err := s.log.ScanLengths(ctx, s.prefix, s.scanCount, func(key string, length int64) {
		if length <= 0 {
			return
		}
		sessions = append(sessions, model.SessionSummary{
			SessionID:    strings.TrimPrefix(key, s.prefix),
			MessageCount: length,
		})
	})
	if err != nil {
		return nil, storageError("scan sessions", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionID < sessions[j].SessionID
	})
	return sessions, nil
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
