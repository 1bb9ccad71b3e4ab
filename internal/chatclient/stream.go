package chatclient

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aaronaludo/chat-system/internal/model"
	relay "github.com/aaronaludo/chat-system/internal/websocket"
)

const writeWait = 10 * time.Second

// Stream 订阅单个会话的实时连接
type Stream struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex // 保护写操作
	closeOnce sync.Once
}

// StreamURL 将 HTTP 服务器地址转换为会话的 WebSocket 地址
func StreamURL(serverURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("无效的服务器地址: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("不支持的协议: %q", u.Scheme)
	}
	return u.String() + "/v1/chat/sessions/" + url.PathEscape(sessionID) + "/ws", nil
}

// Dial 连接到会话
func Dial(serverURL, sessionID string) (*Stream, error) {
	wsURL, err := StreamURL(serverURL, sessionID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	return &Stream{conn: conn, sessionID: sessionID}, nil
}

// SessionID 返回订阅的会话
func (s *Stream) SessionID() string {
	return s.sessionID
}

// Send 通过实时连接发送一条消息
func (s *Stream) Send(req *model.MessageCreate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(req)
}

// Listen 循环读取推送事件直到连接关闭
// 正常关闭（1000/1001）返回 nil，其余返回 *websocket.CloseError 或读取错误
func (s *Stream) Listen(onEvent func(*relay.Event)) error {
	for {
		var evt relay.Event
		if err := s.conn.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		onEvent(&evt)
	}
}

// Close 发送关闭帧并断开连接
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}
