// Package util 提供通用工具函数
package util

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// NewID 生成消息ID
// 使用 Google 的 uuid 库生成 UUID v4
// 返回:
//   - string: 标准格式 xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
func NewID() string {
	return uuid.NewString()
}

// NewShortID 生成紧凑的 ID（不含连字符）
// 用于日志中标识连接
func NewShortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// TruncateString 截断字符串到指定字符数
// 如果字符串超过指定长度，截断并添加 "..."
// 参数:
//   - s: 原字符串
//   - maxLen: 最大字符数
//
// 返回:
//   - string: 截断后的字符串
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// StringPtr 返回字符串的指针
// 用于可选字段的赋值
func StringPtr(s string) *string {
	return &s
}

// TrimToNil 去除首尾空白，结果为空时返回 nil
func TrimToNil(s *string) *string {
	if s == nil {
		return nil
	}
	cleaned := strings.TrimSpace(*s)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
