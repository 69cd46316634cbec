package shared

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore keeps the Insights API bearer token per session in Redis.
type TokenStore struct {
	client   *redis.Client
	ttl      time.Duration
	fallback string
}

// NewTokenStore builds a TokenStore. fallback is returned for sessions without a stored token;
// leave it empty to send unauthenticated requests instead.
func NewTokenStore(client *redis.Client, ttl time.Duration, fallback string) *TokenStore {
	return &TokenStore{client: client, ttl: ttl, fallback: strings.TrimSpace(fallback)}
}

// Token implements insightsapi.TokenProvider using the session ID carried by ctx.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	if s == nil {
		return "", nil
	}
	id := SessionIDFromContext(ctx)
	if id == "" || s.client == nil {
		return s.fallback, nil
	}
	token, err := s.client.Get(ctx, tokenKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return s.fallback, nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Set stores token for the session.
func (s *TokenStore) Set(ctx context.Context, sessionID, token string) error {
	if sessionID == "" {
		return ErrSessionMissing
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return s.Clear(ctx, sessionID)
	}
	return s.client.Set(ctx, tokenKey(sessionID), token, s.ttl).Err()
}

// Clear forgets the session's token.
func (s *TokenStore) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionMissing
	}
	if err := s.client.Del(ctx, tokenKey(sessionID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func tokenKey(sessionID string) string {
	return "dashboard:token:" + sessionID
}
