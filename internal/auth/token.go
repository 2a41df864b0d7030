package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TokenSource yields the bearer token presented to the backend, both on the
// channel's authenticate message and on REST calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("auth: empty token")
	}
	return string(t), nil
}

// SignedTokenSource signs short-lived tokens for a fixed user and reuses one
// until it is close to expiry. Meant for local development against a
// backend sharing the secret.
type SignedTokenSource struct {
	UserID uint64
	Secret string
	TTL    time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewSignedTokenSource(userID uint64, secret string, ttl time.Duration) *SignedTokenSource {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedTokenSource{UserID: userID, Secret: secret, TTL: ttl, now: time.Now}
}

func (s *SignedTokenSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.token != "" && now.Add(s.TTL/10).Before(s.expires) {
		return s.token, nil
	}
	tok, err := SignJWT(s.UserID, s.Secret, s.TTL)
	if err != nil {
		return "", err
	}
	s.token = tok
	s.expires = now.Add(s.TTL)
	return tok, nil
}

// NewTokenSource prefers a configured access token and falls back to
// signing one for userID.
func NewTokenSource(accessToken string, userID uint64, secret string) TokenSource {
	if accessToken != "" {
		return StaticToken(accessToken)
	}
	return NewSignedTokenSource(userID, secret, time.Hour)
}
