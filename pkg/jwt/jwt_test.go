package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)

	token, err := svc.GenerateAdminToken("ops")
	if err != nil {
		t.Fatalf("GenerateAdminToken err: %v", err)
	}

	claims, err := svc.ValidateAdminToken(token)
	if err != nil {
		t.Fatalf("ValidateAdminToken err: %v", err)
	}
	if claims.Name != "ops" || claims.Subject != "admin" || claims.Issuer != "chat-system" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateAdminTokenRejects(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)

	other, err := NewJWTService("other-secret", time.Hour).GenerateAdminToken("ops")
	if err != nil {
		t.Fatalf("GenerateAdminToken err: %v", err)
	}
	if _, err := svc.ValidateAdminToken(other); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: expected ErrInvalidToken, got %v", err)
	}

	expired, err := NewJWTService("secret", -time.Minute).GenerateAdminToken("ops")
	if err != nil {
		t.Fatalf("GenerateAdminToken err: %v", err)
	}
	if _, err := svc.ValidateAdminToken(expired); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expired: expected ErrExpiredToken, got %v", err)
	}

	// 签名正确但 subject 不是 admin
	claims := AdminClaims{
		Name: "ops",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chat-system",
			Subject:   "user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	wrongSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateAdminToken(wrongSubject); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong subject: expected ErrInvalidToken, got %v", err)
	}

	if _, err := svc.ValidateAdminToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: expected ErrInvalidToken, got %v", err)
	}
}
