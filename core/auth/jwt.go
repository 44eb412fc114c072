package auth

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "cadencefm"

var ErrInvalidToken = errors.New("invalid token")

// Claims 访问令牌中携带的用户信息
type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

var (
	mu     sync.RWMutex
	secret = []byte("cadence-dev-secret")
	expiry = 72 * time.Hour
)

// Init 设置签名密钥和有效期，启动时调用一次
func Init(key string, ttl time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if key != "" {
		secret = []byte(key)
	}
	if ttl > 0 {
		expiry = ttl
	}
}

// GenerateToken 为用户签发 HS256 令牌
func GenerateToken(userID int64, username string) (string, error) {
	mu.RLock()
	key, ttl := secret, expiry
	mu.RUnlock()

	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ParseToken 校验签名与过期时间，返回令牌中的用户信息
func ParseToken(tokenString string) (*Claims, error) {
	mu.RLock()
	key := secret
	mu.RUnlock()

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
