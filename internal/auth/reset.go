package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grc-saas/grc/internal/shared"
)

const resetKeyPrefix = "auth:reset:"

// ResetStore keeps single-use password reset tokens.
type ResetStore interface {
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	// Consume returns the user bound to token and removes it. Unknown or
	// expired tokens yield shared.ErrNotFound.
	Consume(ctx context.Context, token string) (string, error)
}

// RedisResetStore implements ResetStore on Redis keys with a TTL.
type RedisResetStore struct {
	client *redis.Client
}

// NewRedisResetStore constructs the store.
func NewRedisResetStore(client *redis.Client) *RedisResetStore {
	return &RedisResetStore{client: client}
}

// Save stores token for ttl.
func (s *RedisResetStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	return s.client.Set(ctx, resetKeyPrefix+token, userID, ttl).Err()
}

// Consume atomically reads and deletes token.
func (s *RedisResetStore) Consume(ctx context.Context, token string) (string, error) {
	userID, err := s.client.GetDel(ctx, resetKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", shared.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

var _ ResetStore = (*RedisResetStore)(nil)
