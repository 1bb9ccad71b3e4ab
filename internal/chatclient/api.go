// Package chatclient 封装 chatctl 与聊天服务的 HTTP / WebSocket 交互
package chatclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aaronaludo/chat-system/internal/model"
)

// Client API 客户端
// baseURL: 例如 http://localhost:8080
// token: 管理员令牌，只有列出会话时需要（Bearer）
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient 创建 API 客户端
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIResponse 通用响应
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError 服务端返回的业务错误
type APIError struct {
	Status  int             // HTTP 状态码
	Code    int             // 业务状态码
	Message string          // 提示信息
	Data    json.RawMessage // 附加数据，校验失败时包含 errors
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API 错误 (%d/%d): %s", e.Status, e.Code, e.Message)
}

// Health 健康检查结果
type Health struct {
	Dependencies map[string]string `json:"dependencies"`
	Live         struct {
		Sessions    int `json:"sessions"`
		Connections int `json:"connections"`
	} `json:"live"`
}

// ListSessions 列出活跃会话（需要管理员令牌）
func (c *Client) ListSessions() ([]model.SessionSummary, error) {
	resp, err := c.get("/v1/chat/sessions")
	if err != nil {
		return nil, err
	}
	var sessions []model.SessionSummary
	if err := json.Unmarshal(resp.Data, &sessions); err != nil {
		return nil, fmt.Errorf("解析会话列表失败: %w", err)
	}
	return sessions, nil
}

// History 获取会话的完整消息记录
func (c *Client) History(sessionID string) (*model.SessionSnapshot, error) {
	resp, err := c.get(sessionPath(sessionID) + "/messages")
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(resp)
}

// Send 发送一条消息，返回追加后的会话快照
func (c *Client) Send(sessionID string, req *model.MessageCreate) (*model.SessionSnapshot, error) {
	if req == nil {
		return nil, fmt.Errorf("请求体为空")
	}
	resp, err := c.post(sessionPath(sessionID)+"/messages", req)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(resp)
}

// Clear 清空会话
func (c *Client) Clear(sessionID string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+sessionPath(sessionID), nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// Health 查询服务健康状态
// 依赖不可用时服务端返回 503，此时同时返回结果和错误
func (c *Client) Health() (*Health, error) {
	resp, err := c.get("/v1/healthz")
	var data json.RawMessage
	switch {
	case err == nil:
		data = resp.Data
	default:
		apiErr, ok := err.(*APIError)
		if !ok || len(apiErr.Data) == 0 {
			return nil, err
		}
		data = apiErr.Data
	}

	var health Health
	if uerr := json.Unmarshal(data, &health); uerr != nil {
		return nil, fmt.Errorf("解析健康检查失败: %w", uerr)
	}
	return &health, err
}

func sessionPath(sessionID string) string {
	return "/v1/chat/sessions/" + url.PathEscape(sessionID)
}

func decodeSnapshot(resp *APIResponse) (*model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		return nil, fmt.Errorf("解析会话失败: %w", err)
	}
	return &snap, nil
}

// --- 通用请求封装 ---
func (c *Client) get(path string) (*APIResponse, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(path string, body interface{}) (*APIResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*APIResponse, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	// 204 没有响应体
	if resp.StatusCode == http.StatusNoContent {
		return &APIResponse{}, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("解析响应失败 (HTTP %d): %w", resp.StatusCode, err)
	}

	if apiResp.Code != 0 || resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{
			Status:  resp.StatusCode,
			Code:    apiResp.Code,
			Message: apiResp.Message,
			Data:    apiResp.Data,
		}
	}

	return &apiResp, nil
}
