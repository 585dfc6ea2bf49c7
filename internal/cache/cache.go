/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps the last published now-playing snapshot per session
// in Redis so read traffic never touches the playback path.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_sessions/internal/session"
)

const (
	// DefaultSnapshotTTL bounds how long a stale snapshot can outlive its
	// session if the close event is lost.
	DefaultSnapshotTTL = 10 * time.Minute

	keySnapshot = "bragi:cache:snapshot:" // + session_key
	keyIndex    = "bragi:cache:sessions"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SnapshotTTL time.Duration

	// DisableOnError trips the circuit breaker on the first Redis error
	// instead of retrying every call.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		SnapshotTTL:    DefaultSnapshotTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed snapshot storage with graceful fallback.
// When Redis is unreachable the cache disables itself and every call
// becomes a no-op; playback never depends on it.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = DefaultSnapshotTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without snapshot cache")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis snapshot cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling snapshot cache due to Redis error")
	}
}

// SetSnapshot stores the latest snapshot for a session.
func (c *Cache) SetSnapshot(ctx context.Context, snap session.Snapshot) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, keySnapshot+snap.Key, data, c.config.SnapshotTTL)
	pipe.SAdd(ctx, keyIndex, snap.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		c.handleError(err, "set_snapshot")
		return err
	}
	return nil
}

// GetSnapshot returns the cached snapshot for a session, if present.
func (c *Cache) GetSnapshot(ctx context.Context, sessionKey string) (session.Snapshot, bool, error) {
	var snap session.Snapshot
	if !c.IsAvailable() {
		return snap, false, nil
	}

	data, err := c.client.Get(ctx, keySnapshot+sessionKey).Bytes()
	if err == redis.Nil {
		return snap, false, nil
	}
	if err != nil {
		c.handleError(err, "get_snapshot")
		return snap, false, err
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Debug().Err(err).Str("session_key", sessionKey).Msg("failed to unmarshal cached snapshot")
		return snap, false, nil
	}
	return snap, true, nil
}

// DeleteSnapshot removes a session's snapshot after teardown.
func (c *Cache) DeleteSnapshot(ctx context.Context, sessionKey string) error {
	if !c.IsAvailable() {
		return nil
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, keySnapshot+sessionKey)
	pipe.SRem(ctx, keyIndex, sessionKey)
	if _, err := pipe.Exec(ctx); err != nil {
		c.handleError(err, "delete_snapshot")
		return err
	}
	return nil
}

// SessionKeys lists sessions with a cached snapshot.
func (c *Cache) SessionKeys(ctx context.Context) ([]string, error) {
	if !c.IsAvailable() {
		return nil, nil
	}

	keys, err := c.client.SMembers(ctx, keyIndex).Result()
	if err != nil {
		c.handleError(err, "session_keys")
		return nil, err
	}
	return keys, nil
}
