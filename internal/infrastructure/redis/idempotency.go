package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const inProgress = "PROCESSING"

// StoredResponse is the response replayed for a repeated Idempotency-Key.
type StoredResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// IdempotencyStore locks a key with SETNX while the first request runs and
// keeps its response afterwards.
type IdempotencyStore struct {
	client    *redis.Client
	lockTTL   time.Duration
	resultTTL time.Duration
}

func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{
		client:    client,
		lockTTL:   30 * time.Second,
		resultTTL: 24 * time.Hour,
	}
}

func idemKey(key string) string {
	return "idempotency:" + key
}

// Acquire locks key for a new request. When the key is taken it returns
// false and, if the first request has finished, its stored response.
func (s *IdempotencyStore) Acquire(ctx context.Context, key string) (bool, *StoredResponse, error) {
	val, err := s.client.Get(ctx, idemKey(key)).Bytes()
	switch {
	case err == nil:
		if string(val) == inProgress {
			return false, nil, nil
		}
		var resp StoredResponse
		if err := json.Unmarshal(val, &resp); err != nil {
			return false, nil, fmt.Errorf("decode stored response: %w", err)
		}
		return false, &resp, nil
	case !errors.Is(err, redis.Nil):
		return false, nil, fmt.Errorf("get idempotency key: %w", err)
	}

	acquired, err := s.client.SetNX(ctx, idemKey(key), inProgress, s.lockTTL).Result()
	if err != nil {
		return false, nil, fmt.Errorf("lock idempotency key: %w", err)
	}
	return acquired, nil, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, resp StoredResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode stored response: %w", err)
	}
	return s.client.Set(ctx, idemKey(key), data, s.resultTTL).Err()
}

// Release drops the lock so the request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, idemKey(key)).Err()
}
