package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "checkout_session:"

// RedisStore keeps checkout sessions in Redis; expiry is delegated to the
// key TTL so no sweeper is needed.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	if client == nil {
		panic("session: redis client is required")
	}
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, sess CheckoutSession, ttl time.Duration) error {
	if sess.ID == "" {
		return ErrEmptySessionID
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode checkout session: %w", err)
	}
	return s.client.Set(ctx, keyPrefix+sess.ID, data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (CheckoutSession, error) {
	if id == "" {
		return CheckoutSession{}, ErrEmptySessionID
	}
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CheckoutSession{}, ErrSessionNotFound
		}
		return CheckoutSession{}, err
	}

	var sess CheckoutSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return CheckoutSession{}, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptySessionID
	}
	return s.client.Del(ctx, keyPrefix+id).Err()
}
