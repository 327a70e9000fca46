package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned when a token names no user
var ErrNoSubject = errors.New("token carries no user id")

// Claims is the part of a storefront access token the bridge reads
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	ID     string `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Subject returns the wallet owner id: sub, then user_id, then id
func (c *Claims) Subject() string {
	for _, v := range []string{c.RegisteredClaims.Subject, c.UserID, c.ID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Service reads access tokens issued by the storefront backend.
// With an empty secret, signatures are not checked and the backend remains
// the authority on every call the token is forwarded with.
type Service struct {
	secret string
	leeway time.Duration
	now    func() time.Time
}

// NewService creates a new JWT service
func NewService(secret string) *Service {
	return &Service{
		secret: secret,
		leeway: 30 * time.Second,
		now:    time.Now,
	}
}

// Verifies reports whether signatures are checked
func (s *Service) Verifies() bool {
	return s.secret != ""
}

// ParseAccessToken extracts the claims of a bearer token
func (s *Service) ParseAccessToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("empty token")
	}

	claims := &Claims{}
	if s.secret == "" {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
		if exp := claims.ExpiresAt; exp != nil && s.now().After(exp.Add(s.leeway)) {
			return nil, fmt.Errorf("failed to parse token: %w", jwt.ErrTokenExpired)
		}
	} else {
		_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(s.secret), nil
		}, jwt.WithLeeway(s.leeway), jwt.WithTimeFunc(s.now))
		if err != nil {
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
	}

	if claims.Subject() == "" {
		return nil, ErrNoSubject
	}
	return claims, nil
}

// ExtractBearer returns the token of an "Authorization: Bearer" header value
func ExtractBearer(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
