package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "storehub/internal/errors"
)

// RedisStore stores records as JSON under "<prefix><id>" with a native TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "sess:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisStore) Create(ctx context.Context, rec Record) error {
	if err := validateForCreate(rec, time.Now()); err != nil {
		return err
	}
	return r.set(ctx, rec)
}

func (r *RedisStore) set(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	if err := r.client.Set(ctx, r.key(rec.SessionID), data, time.Until(rec.ExpiresAt)).Err(); err != nil {
		return apperrors.NewStorageError("session: redis set", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	val, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("session: redis get", err)
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	if rec.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (r *RedisStore) Touch(ctx context.Context, sessionID string) error {
	rec, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	rec.ExpiresAt = time.Now().Add(r.ttl)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	// XX: a Delete that lands after the read must not be undone
	ok, err := r.client.SetXX(ctx, r.key(sessionID), data, r.ttl).Result()
	if err != nil {
		return apperrors.NewStorageError("session: redis touch", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return apperrors.NewStorageError("session: redis delete", err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

var _ Store = (*RedisStore)(nil)
