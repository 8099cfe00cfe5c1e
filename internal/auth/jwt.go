package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 令牌声明：sub 为用户 id
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseJWT 校验 HS256 令牌并返回查看者
func ParseJWT(tokenString string, secret []byte) (Viewer, error) {
	if tokenString == "" {
		return Viewer{}, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return Viewer{}, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return Viewer{}, err
	}
	if !token.Valid {
		return Viewer{}, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return Viewer{}, errors.New("auth: missing subject")
	}
	role, ok := NormalizeRole(claims.Role)
	if !ok {
		return Viewer{}, errors.New("auth: invalid role")
	}
	return Viewer{UserID: claims.Subject, Role: role}, nil
}

// IssueJWT 签发令牌（联调与测试使用）
func IssueJWT(v Viewer, secret []byte, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: empty secret")
	}
	now := time.Now()
	claims := Claims{
		Role: string(v.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   v.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
