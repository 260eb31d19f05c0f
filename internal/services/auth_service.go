package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CoderXiaopang/npm-meta/backend/internal/logger"
	"github.com/CoderXiaopang/npm-meta/backend/internal/npm"
)

const (
	sessionTTL    = 24 * time.Hour
	rememberMeTTL = 7 * 24 * time.Hour
	sessionIssuer = "npm-meta"
)

// SessionClaims is the signed session payload. It wraps the upstream NPM
// token so every request can act against NPM with the caller's own identity
// without this service storing credentials.
type SessionClaims struct {
	Email    string `json:"email"`
	NPMToken string `json:"npm_token"`
	jwt.RegisteredClaims
}

// AuthService exchanges NPM credentials for signed session tokens.
type AuthService struct {
	client *npm.Client
	secret []byte
}

// NewAuthService creates the service. With an empty secret a random one is
// generated, which invalidates all sessions on restart.
func NewAuthService(client *npm.Client, secret string) *AuthService {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// crypto/rand failing means the process is in deep trouble anyway
			panic(fmt.Sprintf("generate session secret: %v", err))
		}
		logger.Log().Warn("NPMMETA_SESSION_SECRET not set, sessions will not survive restarts (secret: " + hex.EncodeToString(key[:4]) + "...)")
	}

	return &AuthService{client: client, secret: key}
}

// Login authenticates against NPM and returns a signed session token plus
// its lifetime. rememberMe extends the session from one day to seven.
func (s *AuthService) Login(ctx context.Context, email, password string, rememberMe bool) (string, time.Duration, error) {
	npmToken, err := s.client.Login(ctx, email, password)
	if err != nil {
		return "", 0, err
	}

	ttl := sessionTTL
	if rememberMe {
		ttl = rememberMeTTL
	}

	now := time.Now()
	claims := SessionClaims{
		Email:    email,
		NPMToken: npmToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign session token: %w", err)
	}

	return signed, ttl, nil
}

// Parse validates a session token and returns its claims.
func (s *AuthService) Parse(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	return claims, nil
}
