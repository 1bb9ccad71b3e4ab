package service_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aaronaludo/chat-system/internal/model"
	"github.com/aaronaludo/chat-system/internal/service"
	"github.com/aaronaludo/chat-system/pkg/util"
)

type memorySink struct {
	mu      sync.Mutex
	records []*model.AuditRecord
	err     error
}

func (s *memorySink) Save(_ context.Context, rec *model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func sampleMessage(content string) *model.Message {
	return &model.Message{
		ID:         util.NewID(),
		Role:       model.RoleUser,
		Content:    content,
		AuthorName: util.StringPtr("alice"),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestAuditServiceDeliversToAllSinks(t *testing.T) {
	first := &memorySink{}
	failing := &memorySink{err: errors.New("db down")}
	svc := service.NewAuditService(8, first, failing)

	for i := 0; i < 3; i++ {
		svc.Record("s1", sampleMessage("hello"))
	}
	svc.Close()

	if first.count() != 3 {
		t.Fatalf("expected 3 records in first sink, got %d", first.count())
	}
	// 一个 sink 失败不影响其它 sink
	if failing.count() != 3 {
		t.Fatalf("expected failing sink to still be called 3 times, got %d", failing.count())
	}
	if first.records[0].SessionID != "s1" || first.records[0].Author != "alice" {
		t.Fatalf("unexpected record %+v", first.records[0])
	}
}

func TestAuditServiceRecordAfterCloseIsNoop(t *testing.T) {
	sink := &memorySink{}
	svc := service.NewAuditService(1, sink)
	svc.Close()
	svc.Close()

	svc.Record("s1", sampleMessage("late"))
	if sink.count() != 0 {
		t.Fatalf("expected no records after close, got %d", sink.count())
	}
}

type blockingSink struct {
	release chan struct{}
	memorySink
}

func (s *blockingSink) Save(ctx context.Context, rec *model.AuditRecord) error {
	<-s.release
	return s.memorySink.Save(ctx, rec)
}

func TestAuditServiceRecordDoesNotBlockWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	svc := service.NewAuditService(1, sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			svc.Record("s1", sampleMessage("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	close(sink.release)
	svc.Close()
	if n := sink.count(); n == 0 || n > 2 {
		t.Fatalf("expected 1 or 2 delivered records, got %d", n)
	}
}

func TestFileAuditSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.log")
	sink, err := service.NewFileAuditSink(path)
	if err != nil {
		t.Fatalf("NewFileAuditSink err: %v", err)
	}

	msg := sampleMessage("hello world")
	if err := sink.Save(context.Background(), model.NewAuditRecord("s1", msg)); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected one audit line")
	}
	var line map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if line["msg"] != "message stored" || line["session"] != "s1" || line["message_id"] != msg.ID {
		t.Fatalf("unexpected audit line %v", line)
	}
	if line["content"] != "hello world" || line["author"] != "alice" || line["role"] != "user" {
		t.Fatalf("unexpected audit payload %v", line)
	}
}

func TestFileAuditSinkReportsWriteFailure(t *testing.T) {
	sink, err := service.NewFileAuditSink(filepath.Join(t.TempDir(), "chat.log"))
	if err != nil {
		t.Fatalf("NewFileAuditSink err: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	if err := sink.Save(context.Background(), model.NewAuditRecord("s1", sampleMessage("lost"))); err == nil {
		t.Fatal("expected write to a closed audit file to fail")
	}
}
