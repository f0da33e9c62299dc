package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/myrightwindow/rightwindow/config"
)

// Claims are the access-token claims issued by the self-hosted backend.
type Claims struct {
	UserID string `json:"sub"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

const (
	// TokenRoleAccess marks tokens that authorize data calls.
	TokenRoleAccess = "authenticated"
	// TokenRoleRefresh marks tokens that may only be traded for a new access token.
	TokenRoleRefresh = "refresh"
)

// GenerateToken issues a signed access token for the user and returns it with its expiry.
func GenerateToken(userID, email string, duration time.Duration) (string, time.Time, error) {
	return signToken(userID, email, TokenRoleAccess, duration)
}

// GenerateRefreshToken issues a signed refresh token for the user.
func GenerateRefreshToken(userID, email string, duration time.Duration) (string, time.Time, error) {
	return signToken(userID, email, TokenRoleRefresh, duration)
}

func signToken(userID, email, role string, duration time.Duration) (string, time.Time, error) {
	cfg := config.Get()
	if cfg.JWTSecret == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}

	now := time.Now()
	expiresAt := now.Add(duration)
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken validates a JWT and returns its claims.
func ParseToken(tokenStr string) (*Claims, error) {
	cfg := config.Get()
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
