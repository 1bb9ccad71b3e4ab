package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/aaronaludo/chat-system/internal/cache"
	"github.com/aaronaludo/chat-system/internal/config"
	"github.com/aaronaludo/chat-system/internal/middleware"
	"github.com/aaronaludo/chat-system/internal/model"
	"github.com/aaronaludo/chat-system/internal/service"
	"github.com/aaronaludo/chat-system/internal/websocket"
	"github.com/aaronaludo/chat-system/pkg/jwt"
	"github.com/aaronaludo/chat-system/pkg/validate"
)

// recordingHub 记录广播，并在广播时读取存储，确认写入先于广播
type recordingHub struct {
	store *service.ChatService

	mu      sync.Mutex
	created []*model.Message
	cleared []string
	// 广播时刻存储中的消息数
	storedAtBroadcast []int
}

func (h *recordingHub) BroadcastNewMessage(sessionID string, msg *model.Message) {
	messages, _ := h.store.ListMessages(context.Background(), sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, msg)
	h.storedAtBroadcast = append(h.storedAtBroadcast, len(messages))
}

func (h *recordingHub) BroadcastSessionCleared(sessionID string) {
	messages, _ := h.store.ListMessages(context.Background(), sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared = append(h.cleared, sessionID)
	h.storedAtBroadcast = append(h.storedAtBroadcast, len(messages))
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestService(t *testing.T) (*service.ChatService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { client.Close() })

	svc := service.NewChatService(cache.NewRedisCacheWithClient(client), config.ChatConfig{
		SessionTTLSeconds:   3600,
		KeyPrefix:           "chat_session:",
		ScanCount:           10,
		WriteTimeoutSeconds: 1,
	}, nil)
	return svc, mr
}

func newTestRouter(t *testing.T, hub Broadcaster, svc *service.ChatService, admin ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validate.UseJSONFieldNames()

	r := gin.New()
	NewChatHandler(svc, hub).RegisterRoutes(r.Group("/v1"), admin...)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("response is not an envelope: %s", w.Body.String())
		}
	}
	return w, env
}

func TestPostMessagePersistsThenBroadcasts(t *testing.T) {
	svc, _ := newTestService(t)
	hub := &recordingHub{store: svc}
	r := newTestRouter(t, hub, svc)

	w, env := doJSON(t, r, http.MethodPost, "/v1/chat/sessions/s1/messages", `{"role":"user","content":"hello","author_name":"  alice "}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var snap model.SessionSnapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.SessionID != "s1" || len(snap.Messages) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	msg := snap.Messages[0]
	if msg.ID == "" || msg.Content != "hello" || msg.AuthorName == nil || *msg.AuthorName != "alice" {
		t.Fatalf("unexpected message %+v", msg)
	}

	if len(hub.created) != 1 || hub.created[0].ID != msg.ID {
		t.Fatalf("expected one broadcast of the stored message, got %+v", hub.created)
	}
	if hub.storedAtBroadcast[0] != 1 {
		t.Fatal("message must be stored before it is broadcast")
	}
}

func TestPostMessageValidation(t *testing.T) {
	svc, _ := newTestService(t)
	hub := &recordingHub{store: svc}
	r := newTestRouter(t, hub, svc)

	cases := []struct {
		name    string
		body    string
		loc     string
		errType string
	}{
		{"bad role", `{"role":"robot","content":"hi"}`, "role", "enum"},
		{"missing content", `{"role":"user"}`, "content", "missing"},
		{"content too long", `{"role":"user","content":"` + strings.Repeat("x", 4001) + `"}`, "content", "string_too_long"},
		{"author too long", `{"role":"user","content":"hi","author_name":"` + strings.Repeat("a", 65) + `"}`, "author_name", "string_too_long"},
		{"wrong type", `{"role":1,"content":"hi"}`, "role", "type_error"},
		{"invalid json", `{`, "", "json_invalid"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := doJSON(t, r, http.MethodPost, "/v1/chat/sessions/s1/messages", tc.body)
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
			}
			if env.Code != 1422 || env.Message != validate.DetailInvalidPayload {
				t.Fatalf("unexpected envelope %+v", env)
			}

			var data struct {
				Errors []validate.FieldError `json:"errors"`
			}
			if err := json.Unmarshal(env.Data, &data); err != nil || len(data.Errors) == 0 {
				t.Fatalf("expected field errors, got %s", env.Data)
			}
			fe := data.Errors[0]
			if fe.Type != tc.errType {
				t.Fatalf("expected type %s, got %+v", tc.errType, fe)
			}
			if tc.loc != "" && (len(fe.Loc) != 2 || fe.Loc[1] != tc.loc) {
				t.Fatalf("expected loc body.%s, got %v", tc.loc, fe.Loc)
			}
		})
	}

	if len(hub.created) != 0 {
		t.Fatalf("invalid requests must not broadcast, got %d", len(hub.created))
	}
	messages, err := svc.ListMessages(context.Background(), "s1")
	if err != nil || len(messages) != 0 {
		t.Fatalf("invalid requests must not be stored, got %d (%v)", len(messages), err)
	}
}

func TestGetMessagesUnknownSessionIsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, &recordingHub{store: svc}, svc)

	w, env := doJSON(t, r, http.MethodGet, "/v1/chat/sessions/nothing/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if string(env.Data) != `{"session_id":"nothing","messages":[]}` {
		t.Fatalf("unexpected data %s", env.Data)
	}
}

func TestClearSessionBroadcastsAfterDelete(t *testing.T) {
	svc, _ := newTestService(t)
	hub := &recordingHub{store: svc}
	r := newTestRouter(t, hub, svc)

	for i := 0; i < 2; i++ {
		if _, err := svc.AddMessage(context.Background(), "s1", &model.MessageCreate{Role: model.RoleUser, Content: "x"}); err != nil {
			t.Fatalf("AddMessage err: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		w, _ := doJSON(t, r, http.MethodDelete, "/v1/chat/sessions/s1", "")
		if w.Code != http.StatusNoContent {
			t.Fatalf("attempt %d: expected 204, got %d", i, w.Code)
		}
	}

	if len(hub.cleared) != 2 || hub.storedAtBroadcast[0] != 0 {
		t.Fatalf("expected clear broadcast after delete, got %+v / %v", hub.cleared, hub.storedAtBroadcast)
	}
}

func TestListSessions(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, &recordingHub{store: svc}, svc)

	for _, id := range []string{"b", "a", "b"} {
		if _, err := svc.AddMessage(context.Background(), id, &model.MessageCreate{Role: model.RoleUser, Content: "x"}); err != nil {
			t.Fatalf("AddMessage err: %v", err)
		}
	}

	w, env := doJSON(t, r, http.MethodGet, "/v1/chat/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if string(env.Data) != `[{"session_id":"a","message_count":1},{"session_id":"b","message_count":2}]` {
		t.Fatalf("unexpected sessions %s", env.Data)
	}
}

func TestListSessionsRequiresAdminToken(t *testing.T) {
	svc, _ := newTestService(t)
	jwtService := jwt.NewJWTService("secret", time.Hour)
	r := newTestRouter(t, &recordingHub{store: svc}, svc, middleware.AdminAuthMiddleware(jwtService))

	w, _ := doJSON(t, r, http.MethodGet, "/v1/chat/sessions", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token, err := jwtService.GenerateAdminToken("ops")
	if err != nil {
		t.Fatalf("GenerateAdminToken err: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}

	// 其它接口不受影响
	if w, _ := doJSON(t, r, http.MethodGet, "/v1/chat/sessions/s1/messages", ""); w.Code != http.StatusOK {
		t.Fatalf("message endpoints must stay open, got %d", w.Code)
	}
}

func TestStorageUnavailableReturns503(t *testing.T) {
	svc, mr := newTestService(t)
	hub := &recordingHub{store: svc}
	r := newTestRouter(t, hub, svc)
	mr.Close()

	requests := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/v1/chat/sessions", ""},
		{http.MethodGet, "/v1/chat/sessions/s1/messages", ""},
		{http.MethodPost, "/v1/chat/sessions/s1/messages", `{"role":"user","content":"hi"}`},
		{http.MethodDelete, "/v1/chat/sessions/s1", ""},
	}
	for _, req := range requests {
		w, env := doJSON(t, r, req.method, req.path, req.body)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s: expected 503, got %d", req.method, req.path, w.Code)
		}
		if env.Code != 1503 || env.Message != service.StorageUnavailableDetail {
			t.Fatalf("%s %s: unexpected envelope %+v", req.method, req.path, env)
		}
	}
	if len(hub.created) != 0 || len(hub.cleared) != 0 {
		t.Fatal("failed writes must not broadcast")
	}
}

// 完整链路：REST 写入与清空推送到实时连接
func TestRESTEventsReachLiveConnections(t *testing.T) {
	svc, _ := newTestService(t)
	hub := websocket.NewHub()
	r := newTestRouter(t, hub, svc)
	websocket.NewHandler(hub, svc, nil, time.Second).RegisterRoutes(r.Group("/v1"))

	server := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/chat/sessions/s1/ws"
	conns := make([]*gorillaws.Conn, 2)
	for i := range conns {
		conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		if ev := readWSEvent(t, conn); ev.Type != websocket.TypeSessionSync {
			t.Fatalf("expected snapshot first, got %+v", ev)
		}
		conns[i] = conn
	}

	resp, err := http.Post(server.URL+"/v1/chat/sessions/s1/messages", "application/json",
		strings.NewReader(`{"role":"assistant","content":"hi"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var ids []string
	for _, conn := range conns {
		ev := readWSEvent(t, conn)
		if ev.Type != websocket.TypeMessageCreated || ev.SessionID != "s1" || ev.Message.Content != "hi" {
			t.Fatalf("unexpected event %+v", ev)
		}
		ids = append(ids, ev.Message.ID)
	}
	if ids[0] != ids[1] {
		t.Fatalf("connections saw different messages %v", ids)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/v1/chat/sessions/s1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	for _, conn := range conns {
		if ev := readWSEvent(t, conn); ev.Type != websocket.TypeSessionCleared || ev.SessionID != "s1" {
			t.Fatalf("expected session.cleared, got %+v", ev)
		}
	}
	messages, err := svc.ListMessages(context.Background(), "s1")
	if err != nil || len(messages) != 0 {
		t.Fatalf("expected empty session after clear, got %d (%v)", len(messages), err)
	}
}

func readWSEvent(t *testing.T, conn *gorillaws.Conn) websocket.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev websocket.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}
