// Package middleware 提供 HTTP 请求的中间件
// 包括管理员 JWT 认证、CORS 跨域、日志记录等
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aaronaludo/chat-system/pkg/jwt"
	"github.com/aaronaludo/chat-system/pkg/response"
)

// AdminAuthMiddleware 创建管理员认证中间件
// 验证请求头中的 Bearer Token，并将签发对象存入上下文
// 参数:
//   - jwtService: JWT 服务实例，用于解析和验证 Token
//
// 返回:
//   - gin.HandlerFunc: Gin 中间件函数
func AdminAuthMiddleware(jwtService *jwt.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 从请求头获取 Authorization 字段
		// 格式: "Bearer <token>"
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Admin token required.")
			c.Abort()
			return
		}

		// 2. 解析 Bearer Token
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "Malformed authorization header.")
			c.Abort()
			return
		}

		// 3. 验证 Token 签名、过期时间和用途
		claims, err := jwtService.ValidateAdminToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "Invalid or expired admin token.")
			c.Abort()
			return
		}

		// 4. 记录签发对象，请求日志会带上
		c.Set("admin", claims.Name)
		c.Next()
	}
}

// GetAdmin 从上下文获取管理员名称，未认证时返回空字符串
func GetAdmin(c *gin.Context) string {
	return c.GetString("admin")
}
