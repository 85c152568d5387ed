package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient privileges")
)

// Roles carried in reward-run credentials. The scheduler role is what the
// periodic cron invoker holds; admin additionally covers manual runs.
const (
	RoleAdmin     = "admin"
	RoleScheduler = "scheduler"
)

// Service issues and verifies HS256 tokens for privileged endpoints.
// Wallet-holder operations never use these; they authenticate with signed
// intent messages instead.
type Service struct {
	secret string
}

// Claims are the token claims for privileged callers.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewService creates an auth service.
func NewService(secret string) *Service {
	return &Service{secret: secret}
}

// IssueToken creates a token for the given subject and role.
func (s *Service) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

// VerifyToken parses and validates a token, accepting an optional
// "Bearer " prefix.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireRewardRun checks that the claims permit triggering a reward
// distribution.
func (c *Claims) RequireRewardRun() error {
	if c.Role != RoleAdmin && c.Role != RoleScheduler {
		return ErrForbidden
	}
	return nil
}
