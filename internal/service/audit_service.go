package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aaronaludo/chat-system/internal/model"
)

// AuditSink 审计记录的落地目标
type AuditSink interface {
	Save(ctx context.Context, rec *model.AuditRecord) error
}

// AuditService 异步审计日志
// Record 只把记录放入有界队列，由单独的 goroutine 写入各个 sink；
// 队列满或 sink 失败只记日志，不影响消息存储和投递
type AuditService struct {
	queue   chan *model.AuditRecord
	sinks   []AuditSink
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAuditService 创建 AuditService 并启动写入 goroutine
func NewAuditService(queueSize int, sinks ...AuditSink) *AuditService {
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &AuditService{
		queue:   make(chan *model.AuditRecord, queueSize),
		sinks:   sinks,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Record 记录一条已存储的消息，不阻塞
func (s *AuditService) Record(sessionID string, msg *model.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- model.NewAuditRecord(sessionID, msg):
	default:
		slog.Warn("audit queue full, dropping record", "session", sessionID, "message_id", msg.ID)
	}
}

// Close 停止接收新记录，并等待队列中的记录写完
func (s *AuditService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
}

func (s *AuditService) run() {
	defer close(s.done)
	for rec := range s.queue {
		for _, sink := range s.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			if err := sink.Save(ctx, rec); err != nil {
				slog.Warn("audit sink failed", "sink", fmt.Sprintf("%T", sink), "message_id", rec.MessageID, "error", err)
			}
			cancel()
		}
	}
}

// FileAuditSink 以 JSON 行格式写入审计文件
type FileAuditSink struct {
	file    *os.File
	handler slog.Handler
}

// NewFileAuditSink 打开（必要时创建）审计文件
func NewFileAuditSink(path string) (*FileAuditSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileAuditSink{
		file:   f,
		handler: slog.NewJSONHandler(f, nil),
	}, nil
}

// Save 写入一行审计记录，写文件失败时返回错误
func (s *FileAuditSink) Save(ctx context.Context, rec *model.AuditRecord) error {
	r := slog.NewRecord(time.Now(), slog.LevelInfo, "message stored", 0)
	r.AddAttrs(
		slog.String("session", rec.SessionID),
		slog.String("message_id", rec.MessageID),
		slog.String("role", rec.Role),
		slog.String("content", rec.Content),
		slog.String("author", rec.Author),
	)
	return s.handler.Handle(ctx, r)
}

// Close 关闭审计文件
func (s *FileAuditSink) Close() error {
	return s.file.Close()
}
