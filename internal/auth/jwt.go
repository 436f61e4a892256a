package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/neotalk/edge-ai/pkg/models"
)

// DefaultTokenLifetime is the token validity window when none is set.
const DefaultTokenLifetime = 7 * 24 * time.Hour

// JWTService signs and validates HS256 session tokens.
type JWTService struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// Claims is the token payload: sub, username, role, iat, exp.
type Claims struct {
	Username string          `json:"username"`
	Role     models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// JWTOption configures the service.
type JWTOption func(*JWTService)

// WithJWTNow overrides the clock for tests.
func WithJWTNow(now func() time.Time) JWTOption {
	return func(s *JWTService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewJWTService builds a token helper. A non-positive lifetime uses the
// 7-day default.
func NewJWTService(secret string, lifetime time.Duration, opts ...JWTOption) *JWTService {
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	s := &JWTService{
		secret:   []byte(secret),
		lifetime: lifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateToken issues a signed token for the user.
func (s *JWTService) GenerateToken(user *models.User) (string, error) {
	if len(s.secret) == 0 {
		return "", errCode(CodeInvalidInput, "jwt secret not configured")
	}
	if user == nil || user.ID == "" {
		return "", errCode(CodeInvalidInput, "user id required")
	}

	now := s.now()
	claims := Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and validates a token, returning its session info.
func (s *JWTService) ValidateToken(tokenText string) (*models.SessionInfo, error) {
	if len(s.secret) == 0 {
		return nil, errCode(CodeInvalidToken, "jwt secret not configured")
	}

	parsed, err := jwt.ParseWithClaims(tokenText, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errCode(CodeInvalidToken, "unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if s.isExpired(tokenText) {
			return nil, errCode(CodeExpiredToken, "token expired")
		}
		return nil, errCode(CodeInvalidToken, "token validation failed")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, errCode(CodeInvalidToken, "token claims invalid")
	}

	info := &models.SessionInfo{
		UserID:   claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	}
	if claims.IssuedAt != nil {
		info.CreatedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return info, nil
}

// isExpired distinguishes expiry from other validation failures so the
// caller sees ExpiredToken rather than a generic InvalidToken.
func (s *JWTService) isExpired(tokenText string) bool {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims Claims
	if _, _, err := parser.ParseUnverified(tokenText, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && claims.ExpiresAt.Before(s.now())
}
