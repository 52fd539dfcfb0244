// Package auth issues and validates the signed session tokens that scope
// generations, recovery hints and rate limits to one browser session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/shotstudio/internal/config"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
)

const tokenTypeSession = "session"

// Claims is the validated content of a session token.
type Claims struct {
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	ID        string    `json:"-"`
}

type sessionClaims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// SessionTokens signs session tokens with HMAC-SHA256.
type SessionTokens struct {
	signingKey []byte
	lifetime   time.Duration
	clockSkew  time.Duration
	timeFunc   func() time.Time
	newID      func() string
}

// NewSessionTokens creates a SessionTokens from the auth configuration.
func NewSessionTokens(cfg config.AuthConfig) (*SessionTokens, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	if cfg.SessionLifetimeMinutes <= 0 {
		return nil, fmt.Errorf("session lifetime must be positive")
	}

	return &SessionTokens{
		signingKey: []byte(cfg.JWTSecret),
		lifetime:   time.Duration(cfg.SessionLifetimeMinutes) * time.Minute,
		clockSkew:  2 * time.Minute,
		timeFunc:   time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Issue starts a new session and returns its signed token.
func (s *SessionTokens) Issue(ctx context.Context) (string, *Claims, error) {
	return s.Renew(ctx, s.newID())
}

// Renew signs a fresh token for an existing session.
func (s *SessionTokens) Renew(ctx context.Context, sessionID string) (string, *Claims, error) {
	if sessionID == "" {
		return "", nil, ErrInvalidToken
	}
	now := s.timeFunc()

	claims := sessionClaims{
		TokenType: tokenTypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		logger.FromContext(ctx).Error("failed to sign session token",
			"error", err,
			"session", sessionID)
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, &Claims{
		SessionID: sessionID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		ID:        claims.ID,
	}, nil
}

// Validate parses token and returns its claims.
func (s *SessionTokens) Validate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	log := logger.FromContext(ctx)
	now := s.timeFunc()

	parsed, err := jwt.ParseWithClaims(
		token,
		&sessionClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			log.Debug("session token expired", "error", err)
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
			log.Debug("session token not yet valid", "error", err)
			return nil, ErrTokenNotYetValid
		default:
			log.Debug("session token rejected", "error", err, "error_type", fmt.Sprintf("%T", err))
			return nil, ErrInvalidToken
		}
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeSession {
		log.Debug("token validation failed: wrong token type", "actual", claims.TokenType)
		return nil, ErrWrongTokenType
	}

	return &Claims{
		SessionID: claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		ID:        claims.ID,
	}, nil
}
