// Package response 提供统一的 HTTP 响应格式
// 所有 API 都使用相同的响应结构，便于前端处理
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
// code: 业务状态码（0 表示成功）
// message: 提示信息
// data: 响应数据
type Response struct {
	Code    int         `json:"code"`           // 业务状态码
	Message string      `json:"message"`        // 提示信息
	Data    interface{} `json:"data,omitempty"` // 响应数据，可选
}

// 业务状态码定义
const (
	CodeSuccess            = 0    // 成功
	CodeUnauthorized       = 1001 // 未授权
	CodeNotFound           = 1003 // 资源不存在
	CodeInternalError      = 1004 // 服务器内部错误
	CodeValidationFailed   = 1422 // 消息载荷校验失败
	CodeStorageUnavailable = 1503 // 会话存储不可用
)

// Success 返回成功响应
// 参数:
//   - c: Gin 上下文
//   - data: 响应数据，可以是任意类型
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created 返回 201 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "created",
		Data:    data,
	})
}

// NoContent 返回 204 无内容响应（用于删除操作）
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Unauthorized 返回 401 错误（未授权）
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    CodeUnauthorized,
		Message: message,
	})
}

// NotFound 返回 404 错误（资源不存在）
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Code:    CodeNotFound,
		Message: message,
	})
}

// ValidationFailed 返回 422 错误，data 中携带逐字段的错误
// 参数:
//   - c: Gin 上下文
//   - message: 错误说明
//   - data: 校验错误详情
func ValidationFailed(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusUnprocessableEntity, Response{
		Code:    CodeValidationFailed,
		Message: message,
		Data:    data,
	})
}

// InternalError 返回 500 错误（服务器内部错误）
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Code:    CodeInternalError,
		Message: message,
	})
}

// ServiceUnavailable 返回 503 错误，调用方可稍后重试
func ServiceUnavailable(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusServiceUnavailable, Response{
		Code:    CodeStorageUnavailable,
		Message: message,
		Data:    data,
	})
}
