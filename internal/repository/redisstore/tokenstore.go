// Package redisstore backs the token store with redis.
//
// Some sites run a shared redis next to the station instead of postgres;
// the backend is picked by config. Values are stored without TTL: token
// lifetime is owned by the session manager, not the store.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lavaops/stationd/internal/apperrors"
)

const keyPrefix = "stationd:"

type TokenStore struct {
	client *redis.Client
}

func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

// Connect creates a client and pings it, so a misconfigured address
// fails at startup instead of on the first token read
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cant connect to redis at %s. Err: %w", addr, err)
	}

	return client, nil
}

func (s *TokenStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, redis.Nil):
		return "", fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	default:
		return "", fmt.Errorf("redis error: %w", err)
	}
}

func (s *TokenStore) Set(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (s *TokenStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (s *TokenStore) key(key string) string {
	return keyPrefix + key
}
