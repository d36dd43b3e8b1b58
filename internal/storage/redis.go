package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig defines Redis/KeyDB connection settings.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	Database int
}

type redisKV struct {
	client *redis.Client
}

// NewRedisKV initializes a KV backed by Redis/KeyDB.
func NewRedisKV(cfg RedisConfig) (KV, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &redisKV{client: client}, nil
}

func (r *redisKV) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &NotFoundError{Resource: "key", Key: key}
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (r *redisKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// IsNotFound reports whether err denotes an absent key or record.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}
