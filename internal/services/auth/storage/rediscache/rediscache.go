// Package rediscache caches web session rows in Redis.
//
// The cache is strictly optional: when no Redis address is configured the
// server runs against sqlite alone, and any Redis failure degrades to a cache
// miss rather than an error.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	"github.com/jazzmind/vibefunder/internal/services/auth/storage"
)

// Config controls the optional Redis connection.
type Config struct {
	Addr     string `env:"VIBEFUNDER_REDIS_ADDR"`
	Password string `env:"VIBEFUNDER_REDIS_PASSWORD"`
	DB       int    `env:"VIBEFUNDER_REDIS_DB"`
}

// LoadConfigFromEnv returns Redis configuration. An empty Addr disables the
// cache.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}
	}
	return cfg
}

// Cache holds a Redis client for session lookups.
type Cache struct {
	client *redis.Client
	clock  func() time.Time
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client, clock: time.Now}, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// GetWebSession returns a cached session row, if present.
func (c *Cache) GetWebSession(ctx context.Context, sessionID string) (storage.WebSession, bool) {
	if c == nil || c.client == nil {
		return storage.WebSession{}, false
	}
	payload, err := c.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("redis get session %s: %v", sessionID, err)
		}
		return storage.WebSession{}, false
	}
	var row storage.WebSession
	if err := json.Unmarshal(payload, &row); err != nil {
		log.Printf("redis decode session %s: %v", sessionID, err)
		return storage.WebSession{}, false
	}
	return row, true
}

// PutWebSession caches a session row until its expiry.
func (c *Cache) PutWebSession(ctx context.Context, session storage.WebSession) {
	if c == nil || c.client == nil {
		return
	}
	ttl := session.ExpiresAt.Sub(c.clock())
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(session)
	if err != nil {
		log.Printf("redis encode session %s: %v", session.ID, err)
		return
	}
	if err := c.client.Set(ctx, sessionKey(session.ID), payload, ttl).Err(); err != nil {
		log.Printf("redis put session %s: %v", session.ID, err)
	}
}

// DeleteWebSession evicts a session row.
func (c *Cache) DeleteWebSession(ctx context.Context, sessionID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		log.Printf("redis delete session %s: %v", sessionID, err)
	}
}

func sessionKey(sessionID string) string {
	return "vibefunder:session:" + sessionID
}
