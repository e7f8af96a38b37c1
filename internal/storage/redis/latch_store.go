package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type latchStore struct {
	client *redis.Client
}

// Claim sets the latch key only if it does not exist yet
func (s *latchStore) Claim(ctx context.Context, period string) (bool, error) {
	return s.client.SetNX(ctx, latchKey(period), time.Now().UTC().Format(time.RFC3339), 0).Result()
}

// Sent reports whether the latch key exists
func (s *latchStore) Sent(ctx context.Context, period string) (bool, error) {
	n, err := s.client.Exists(ctx, latchKey(period)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
