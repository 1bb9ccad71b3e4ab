package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aaronaludo/chat-system/pkg/util"
)

// ErrClientClosed 连接已关闭
var ErrClientClosed = errors.New("websocket client closed")

// ConnState 连接状态
type ConnState int32

const (
	StateConnecting ConnState = iota // 已握手，尚未发送快照
	StateLive                        // 已发送快照，接收推送
	StateClosed                      // 终态
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	default:
		return "closed"
	}
}

// 连接配置常量
const (
	// 等待 Pong 响应的超时时间
	pongWait = 60 * time.Second

	// 发送 Ping 的间隔（必须小于 pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 控制帧写超时
	controlWait = time.Second

	// 入站消息最大大小（64KB）
	maxMessageSize = 64 * 1024
)

// Client 表示一个 WebSocket 客户端连接
// 实现 Conn；写操作串行化，每次写都有超时
type Client struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	writeWait time.Duration

	mu        sync.Mutex // 保护写操作和 pending
	state     atomic.Int32
	pending   []any // Connecting 期间收到的推送，快照发出后按序补发
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient 创建新的客户端
func NewClient(conn *websocket.Conn, sessionID string, writeWait time.Duration) *Client {
	return &Client{
		id:        util.NewShortID(),
		sessionID: sessionID,
		conn:      conn,
		writeWait: writeWait,
		done:      make(chan struct{}),
	}
}

// ID 连接标识，用于日志
func (c *Client) ID() string { return c.id }

// SessionID 连接所属会话
func (c *Client) SessionID() string { return c.sessionID }

// State 当前状态
func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// Send 以 JSON 文本帧发送事件
// 快照发出前的事件先缓存，保证客户端总是先收到快照
func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateClosed:
		return ErrClientClosed
	case StateConnecting:
		c.pending = append(c.pending, v)
		return nil
	}
	return c.write(v)
}

// SendSnapshot 发送快照并进入 Live
// 缓存的推送随后按序补发，快照中已包含的新消息事件被丢弃
func (c *Client) SendSnapshot(event *SessionSyncEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateConnecting {
		return ErrClientClosed
	}
	if err := c.write(event); err != nil {
		return err
	}

	inSnapshot := make(map[string]struct{}, len(event.Session.Messages))
	for _, msg := range event.Session.Messages {
		inSnapshot[msg.ID] = struct{}{}
	}
	pending := c.pending
	c.pending = nil
	for _, v := range pending {
		if created, ok := v.(*MessageCreatedEvent); ok && created.Message != nil {
			if _, dup := inSnapshot[created.Message.ID]; dup {
				continue
			}
		}
		if err := c.write(v); err != nil {
			return err
		}
	}

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateLive)) {
		return ErrClientClosed
	}
	return nil
}

// write 调用方持有 mu
func (c *Client) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close 发送关闭帧并关闭底层连接，只执行一次
func (c *Client) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)

		// 关闭帧尽力发送，对端可能已经断开
		msg := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWait))
		err = c.conn.Close()
	})
	return err
}

// ReadPump 读取客户端消息，直到连接出错或关闭
// 每个文本帧交给 onFrame 处理，在当前 goroutine 中串行执行
func (c *Client) ReadPump(onFrame func(data []byte)) error {
	// 设置读取限制
	c.conn.SetReadLimit(maxMessageSize)

	// 设置读取超时
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	// 每次收到 Pong，重置读取超时
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		onFrame(data)
	}
}

// PingLoop 定时发送 Ping，连接关闭后退出
func (c *Client) PingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// WriteControl 可与其它写方法并发调用
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				return
			}
		}
	}
}
