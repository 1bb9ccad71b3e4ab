package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aaronaludo/chat-system/internal/model"
	"github.com/aaronaludo/chat-system/pkg/validate"
)

type fakeConn struct {
	id string

	mu        sync.Mutex
	events    []any
	closed    bool
	closeCode int

	failSend bool
	// 非 nil 时 Send 先通知 entered，再等待 release
	entered chan struct{}
	release chan struct{}
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(v any) error {
	if f.release != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend || f.closed {
		return errors.New("broken pipe")
	}
	f.events = append(f.events, v)
	return nil
}

func (f *fakeConn) Close(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.closeCode = code
	}
	return nil
}

func (f *fakeConn) received() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.events...)
}

func (f *fakeConn) isClosed() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode
}

func testMessage(content string) *model.Message {
	return &model.Message{
		ID:        "msg-" + content,
		Role:      model.RoleAssistant,
		Content:   content,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestConnectThenDisconnectLeavesNoTrace(t *testing.T) {
	hub := NewHub()
	conn := newFakeConn("a")

	hub.Connect("s1", conn)
	if stats := hub.Stats(); stats.Sessions != 1 || stats.Connections != 1 {
		t.Fatalf("unexpected stats after connect: %+v", stats)
	}

	hub.Disconnect("s1", conn)
	if stats := hub.Stats(); stats.Sessions != 0 || stats.Connections != 0 {
		t.Fatalf("expected empty registry, got %+v", stats)
	}
	if _, ok := hub.sessions["s1"]; ok {
		t.Fatal("expected session entry to be removed")
	}

	// 重复断开和断开未注册的连接都是空操作
	hub.Disconnect("s1", conn)
	hub.Disconnect("other", newFakeConn("b"))
}

func TestDisconnectKeepsOtherConnections(t *testing.T) {
	hub := NewHub()
	a, b := newFakeConn("a"), newFakeConn("b")
	hub.Connect("s1", a)
	hub.Connect("s1", b)

	hub.Disconnect("s1", a)
	if n := hub.ConnectionCount("s1"); n != 1 {
		t.Fatalf("expected 1 remaining connection, got %d", n)
	}
}

func TestBroadcastToEmptySessionIsNoop(t *testing.T) {
	hub := NewHub()
	hub.BroadcastNewMessage("nobody", testMessage("hi"))
	hub.BroadcastSessionCleared("nobody")

	if stats := hub.Stats(); stats.Sessions != 0 {
		t.Fatalf("broadcast must not create entries, got %+v", stats)
	}
}

func TestBroadcastNewMessageReachesSessionOnly(t *testing.T) {
	hub := NewHub()
	a, b, other := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")
	hub.Connect("s1", a)
	hub.Connect("s1", b)
	hub.Connect("s2", other)

	msg := testMessage("hi")
	hub.BroadcastNewMessage("s1", msg)

	for _, conn := range []*fakeConn{a, b} {
		events := conn.received()
		if len(events) != 1 {
			t.Fatalf("%s: expected 1 event, got %d", conn.id, len(events))
		}
		ev, ok := events[0].(*MessageCreatedEvent)
		if !ok {
			t.Fatalf("%s: unexpected event type %T", conn.id, events[0])
		}
		if ev.Type != TypeMessageCreated || ev.SessionID != "s1" || ev.Message.ID != msg.ID {
			t.Fatalf("%s: unexpected event %+v", conn.id, ev)
		}
	}
	if len(other.received()) != 0 {
		t.Fatal("connection on another session must not receive the event")
	}
}

func TestBroadcastSessionCleared(t *testing.T) {
	hub := NewHub()
	a := newFakeConn("a")
	hub.Connect("s1", a)

	hub.BroadcastSessionCleared("s1")

	events := a.received()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev, ok := events[0].(*SessionClearedEvent)
	if !ok || ev.Type != TypeSessionCleared || ev.SessionID != "s1" {
		t.Fatalf("unexpected event %#v", events[0])
	}
}

func TestBroadcastDropsFailedConnection(t *testing.T) {
	hub := NewHub()
	a, b := newFakeConn("a"), newFakeConn("b")
	a.failSend = true
	hub.Connect("s1", a)
	hub.Connect("s1", b)

	hub.BroadcastNewMessage("s1", testMessage("hi"))

	if len(b.received()) != 1 {
		t.Fatalf("healthy connection should still receive the event, got %d", len(b.received()))
	}
	if n := hub.ConnectionCount("s1"); n != 1 {
		t.Fatalf("expected failed connection to be removed, %d remain", n)
	}
	if closed, code := a.isClosed(); !closed || code != websocket.CloseGoingAway {
		t.Fatalf("expected failed connection closed with 1001, got closed=%v code=%d", closed, code)
	}

	// 唯一的连接失败后整个会话被移除
	b.failSend = true
	hub.BroadcastSessionCleared("s1")
	if stats := hub.Stats(); stats.Sessions != 0 {
		t.Fatalf("expected session entry removed, got %+v", stats)
	}
}

func TestJoinerDuringBroadcastMissesInFlightEvent(t *testing.T) {
	hub := NewHub()
	a := newFakeConn("a")
	a.entered = make(chan struct{}, 1)
	a.release = make(chan struct{})
	hub.Connect("s1", a)

	done := make(chan struct{})
	go func() {
		hub.BroadcastNewMessage("s1", testMessage("first"))
		close(done)
	}()

	select {
	case <-a.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never reached connection a")
	}

	// a 阻塞在投递中，注册表仍可修改
	b := newFakeConn("b")
	connected := make(chan struct{})
	go func() {
		hub.Connect("s1", b)
		close(connected)
	}()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("Connect blocked by an in-flight delivery")
	}

	close(a.release)
	<-done

	if len(b.received()) != 0 {
		t.Fatalf("joiner must not receive the in-flight event, got %d", len(b.received()))
	}

	a.release = nil
	hub.BroadcastNewMessage("s1", testMessage("second"))

	if got := b.received(); len(got) != 1 || got[0].(*MessageCreatedEvent).Message.Content != "second" {
		t.Fatalf("joiner should receive broadcasts after connect, got %v", got)
	}
	if got := a.received(); len(got) != 2 {
		t.Fatalf("expected a to receive both events, got %d", len(got))
	}
}

func TestSendSnapshot(t *testing.T) {
	hub := NewHub()
	a, b := newFakeConn("a"), newFakeConn("b")
	hub.Connect("s1", a)
	hub.Connect("s1", b)

	messages := []model.Message{*testMessage("one"), *testMessage("two")}
	hub.SendSnapshot(a, "s1", messages)

	events := a.received()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev, ok := events[0].(*SessionSyncEvent)
	if !ok || ev.Type != TypeSessionSync || ev.Session.SessionID != "s1" || len(ev.Session.Messages) != 2 {
		t.Fatalf("unexpected snapshot %#v", events[0])
	}
	if ev.Session.Messages[0].Content != "one" || ev.Session.Messages[1].Content != "two" {
		t.Fatalf("snapshot out of order: %+v", ev.Session.Messages)
	}
	if len(b.received()) != 0 {
		t.Fatal("snapshot must go to exactly one connection")
	}

	// 空会话的快照是空数组
	hub.SendSnapshot(b, "s1", nil)
	data, err := json.Marshal(b.received()[0])
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if want := `{"type":"session.sync","session":{"session_id":"s1","messages":[]}}`; string(data) != want {
		t.Fatalf("unexpected snapshot json %s", data)
	}
}

func TestSendSnapshotFailureDropsConnection(t *testing.T) {
	hub := NewHub()
	a := newFakeConn("a")
	a.failSend = true
	hub.Connect("s1", a)

	hub.SendSnapshot(a, "s1", nil)

	if stats := hub.Stats(); stats.Connections != 0 {
		t.Fatalf("expected connection removed after failed snapshot, got %+v", stats)
	}
}

func TestCloseClosesEveryConnection(t *testing.T) {
	hub := NewHub()
	conns := []*fakeConn{newFakeConn("a"), newFakeConn("b"), newFakeConn("c")}
	hub.Connect("s1", conns[0])
	hub.Connect("s1", conns[1])
	hub.Connect("s2", conns[2])

	hub.Close()

	for _, conn := range conns {
		if closed, code := conn.isClosed(); !closed || code != websocket.CloseGoingAway {
			t.Fatalf("%s: expected close 1001, got closed=%v code=%d", conn.id, closed, code)
		}
	}
	if stats := hub.Stats(); stats.Sessions != 0 || stats.Connections != 0 {
		t.Fatalf("expected empty registry after close, got %+v", stats)
	}
}

func TestHubConcurrentAccess(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("s%d", i%4)
			conn := newFakeConn(fmt.Sprintf("c%d", i))
			for j := 0; j < 50; j++ {
				hub.Connect(sessionID, conn)
				hub.BroadcastNewMessage(sessionID, testMessage("x"))
				if j%3 == 0 {
					hub.BroadcastSessionCleared(sessionID)
				}
				hub.Disconnect(sessionID, conn)
			}
		}(i)
	}
	wg.Wait()

	if stats := hub.Stats(); stats.Sessions != 0 || stats.Connections != 0 {
		t.Fatalf("expected empty registry, got %+v", stats)
	}
}

func TestEventJSONShapes(t *testing.T) {
	author := "bot"
	msg := testMessage("hi")
	msg.AuthorName = &author

	cases := []struct {
		name  string
		event any
		want  string
	}{
		{
			name:  "message created",
			event: NewMessageCreatedEvent("s1", msg),
			want:  `{"type":"message.created","session_id":"s1","message":{"id":"msg-hi","role":"assistant","content":"hi","author_name":"bot","created_at":"2024-01-01T00:00:00Z"}}`,
		},
		{
			name:  "session cleared",
			event: NewSessionClearedEvent("s1"),
			want:  `{"type":"session.cleared","session_id":"s1"}`,
		},
		{
			name: "error",
			event: NewErrorEvent(&validate.Error{
				Detail: validate.DetailInvalidPayload,
				Errors: []validate.FieldError{{Loc: []string{"body", "role"}, Msg: "Field required", Type: "missing"}},
			}),
			want: `{"type":"error","detail":"Invalid message payload.","errors":[{"loc":["body","role"],"msg":"Field required","type":"missing"}]}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.event)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tc.want {
				t.Fatalf("got %s\nwant %s", data, tc.want)
			}
		})
	}
}
