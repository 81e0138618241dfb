package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"storehub/internal/config"
)

// NewRedisClient builds a client from cfg without dialing.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// ConnectRedis returns a client once PING succeeds, retrying with backoff for up to maxWait.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, maxWait time.Duration, logger *slog.Logger) (*redis.Client, error) {
	client := NewRedisClient(cfg)

	_, err := backoff.Retry(ctx, func() (string, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Result()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("redis not ready, retrying",
				slog.String("addr", cfg.Addr),
				slog.String("error", err.Error()),
				slog.Duration("next_retry", next))
		}),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
