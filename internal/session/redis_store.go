// Package session keeps refresh sessions and revoked access tokens in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hubo/api/internal/store"
)

var ErrSessionNotFound = errors.New("refresh session not found or expired")

// TokenData holds the data stored for each refresh token
type TokenData struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "hubo:",
	}
}

func (s *RedisStore) refreshKey(tokenHash string) string {
	return s.prefix + "refresh:" + tokenHash
}

func (s *RedisStore) revokedKey(jti string) string {
	return s.prefix + "revoked:" + jti
}

// SaveRefreshSession stores a refresh token until expiresAt. A session that
// is already expired is not stored.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	jsonData, err := json.Marshal(TokenData{UserID: userID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}
	if err := s.client.Set(ctx, s.refreshKey(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession returns the session's user with only ID set; callers
// load the current profile and role from the user store.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	jsonData, err := s.client.Get(ctx, s.refreshKey(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.User{}, ErrSessionNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return store.User{}, fmt.Errorf("unmarshal token data: %w", err)
	}
	return store.User{ID: data.UserID}, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.refreshKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAccessToken remembers the jti until the token would have expired
// anyway.
func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	ttl := time.Until(exp)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
