// Package cache mirrors the published snapshot into Redis so other tools on
// the network can read or subscribe to it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/camarigor/minerdash/internal/config"
)

// Mirror writes each snapshot under a key with a TTL and publishes it on a
// channel. A nil *Mirror is valid and does nothing.
type Mirror struct {
	client  *redis.Client
	key     string
	channel string
	ttl     time.Duration
}

// NewMirror connects to Redis. It returns nil, nil when no address is
// configured.
func NewMirror(ctx context.Context, cfg config.RedisConfig) (*Mirror, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.Seconds(cfg.TTLSeconds)
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Mirror{
		client:  client,
		key:     cfg.Key,
		channel: cfg.Channel,
		ttl:     ttl,
	}, nil
}

// Publish stores data under the snapshot key and announces it on the channel
func (m *Mirror) Publish(ctx context.Context, data []byte) error {
	if m == nil {
		return nil
	}
	pipe := m.client.Pipeline()
	pipe.Set(ctx, m.key, data, m.ttl)
	if m.channel != "" {
		pipe.Publish(ctx, m.channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mirror: %w", err)
	}
	return nil
}

// Latest returns the mirrored snapshot, or nil if it has expired
func (m *Mirror) Latest(ctx context.Context) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

// Close closes the Redis connection
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}
