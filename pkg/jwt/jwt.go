package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken token无效
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken token已过期
	ErrExpiredToken = errors.New("token expired")
)

// Claims 控制API的令牌声明
type Claims struct {
	jwt.RegisteredClaims
}

// Manager HS256 令牌管理器
type Manager struct {
	secretKey      []byte
	issuer         string
	expireDuration time.Duration
}

// NewManager 创建令牌管理器
func NewManager(secretKey, issuer string, expireDuration time.Duration) *Manager {
	return &Manager{
		secretKey:      []byte(secretKey),
		issuer:         issuer,
		expireDuration: expireDuration,
	}
}

// GenerateToken 为调用方生成令牌
func (m *Manager) GenerateToken(subject string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expireDuration)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ParseToken 解析并校验令牌，签发者必须一致
func (m *Manager) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名方法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(m.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
