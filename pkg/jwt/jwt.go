// Package jwt 提供 JWT Token 的生成和验证功能
// 用于保护管理接口（活跃会话列表）
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 定义错误类型
var (
	ErrInvalidToken = errors.New("invalid token")     // Token 无效
	ErrExpiredToken = errors.New("token has expired") // Token 已过期
)

const (
	issuer       = "chat-system"
	subjectAdmin = "admin"
)

// AdminClaims 管理员 JWT 的声明（Payload）
type AdminClaims struct {
	Name string `json:"name"` // 签发对象，只用于日志
	jwt.RegisteredClaims
}

// JWTService 提供 JWT 相关操作
type JWTService struct {
	secret []byte        // JWT 签名密钥
	expire time.Duration // Token 过期时间
}

// NewJWTService 创建 JWTService 实例
// 参数:
//   - secret: JWT 签名密钥
//   - expire: Token 过期时间
//
// 返回:
//   - *JWTService: JWT 服务实例
func NewJWTService(secret string, expire time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		expire: expire,
	}
}

// GenerateAdminToken 生成管理员 Token
// 参数:
//   - name: 签发对象名称
//
// 返回:
//   - string: JWT Token 字符串
//   - error: 生成错误
func (s *JWTService) GenerateAdminToken(name string) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expire)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subjectAdmin,
		},
	}

	// jwt.SigningMethodHS256: 使用 HMAC SHA256 算法签名
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateAdminToken 验证管理员 Token
// 参数:
//   - tokenString: JWT Token 字符串
//
// 返回:
//   - *AdminClaims: Token 中的声明信息
//   - error: 验证错误（无效或已过期）
func (s *JWTService) ValidateAdminToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 确保使用的是我们期望的算法（HMAC）
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		// 检查是否是过期错误
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || claims.Subject != subjectAdmin {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GetExpire 获取 Token 过期时间
func (s *JWTService) GetExpire() time.Duration {
	return s.expire
}
