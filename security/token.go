// Package security 提供会话令牌签发校验与查询入口防护。
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Anniext/bqlens/core"
	jwtgo "github.com/dgrijalva/jwt-go"
)

// sessionClaims 会话令牌的载荷。
type sessionClaims struct {
	UserID    string `json:"user_id"`    // 用户ID
	Username  string `json:"username"`   // 用户名
	SessionID string `json:"session_id"` // 会话ID
	jwtgo.StandardClaims
}

// TokenManager 会话令牌管理器，实现 core.TokenManager 接口。
// secret：HMAC 签名密钥。
// expiry：令牌有效期。
// logger：日志记录器。
type TokenManager struct {
	secret []byte        // 签名密钥
	expiry time.Duration // 令牌有效期
	logger core.Logger   // 日志记录器
}

// NewTokenManager 创建令牌管理器。
// config.JWTSecret 为空时生成随机密钥，此时令牌在进程重启后全部失效。
func NewTokenManager(config *core.SecurityConfig, logger core.Logger) (*TokenManager, error) {
	if config == nil {
		return nil, core.NewBQError(core.ErrorTypeValidation, "INVALID_CONFIG", "安全配置不能为空")
	}

	expiry := config.TokenExpiry
	if expiry <= 0 {
		expiry = core.DefaultTokenExpiry
	}

	secret := []byte(config.JWTSecret)
	if len(secret) == 0 {
		generated, err := randomSecret()
		if err != nil {
			return nil, core.WrapError(err, core.ErrorTypeInternal, "SECRET_GENERATION_FAILED", "随机密钥生成失败")
		}
		secret = generated
		if logger != nil {
			logger.Warn("未配置 jwt_secret，已生成随机密钥，重启后现有令牌将失效")
		}
	}

	return &TokenManager{
		secret: secret,
		expiry: expiry,
		logger: logger,
	}, nil
}

// IssueToken 为用户签发会话令牌。
func (tm *TokenManager) IssueToken(user *core.UserInfo) (string, error) {
	if user == nil || user.ID == "" {
		return "", core.NewBQError(core.ErrorTypeValidation, "INVALID_USER", "用户信息不完整")
	}

	now := time.Now()
	claims := &sessionClaims{
		UserID:    user.ID,
		Username:  user.Username,
		SessionID: user.SessionID,
		StandardClaims: jwtgo.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(tm.expiry).Unix(),
			Issuer:    "bqlens",
		},
	}

	token := jwtgo.NewWithClaims(jwtgo.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", core.WrapError(err, core.ErrorTypeAuth, "TOKEN_SIGN_FAILED", "令牌签名失败")
	}

	return signed, nil
}

// ValidateToken 校验令牌并返回其中的用户信息。
func (tm *TokenManager) ValidateToken(tokenString string) (*core.UserInfo, error) {
	if tokenString == "" {
		return nil, core.ErrInvalidToken.WithDetails(map[string]any{"reason": "empty"})
	}

	token, err := jwtgo.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwtgo.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtgo.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("无效的签名方法: %v", token.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		if ve, ok := err.(*jwtgo.ValidationError); ok && ve.Errors&jwtgo.ValidationErrorExpired != 0 {
			return nil, core.ErrTokenExpired.WithCause(err)
		}
		return nil, core.ErrInvalidToken.WithCause(err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return nil, core.ErrInvalidToken
	}

	return &core.UserInfo{
		ID:        claims.UserID,
		Username:  claims.Username,
		SessionID: claims.SessionID,
	}, nil
}

func randomSecret() ([]byte, error) {
	buf := make([]byte, core.RandomSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	secret := make([]byte, hex.EncodedLen(len(buf)))
	hex.Encode(secret, buf)
	return secret, nil
}
