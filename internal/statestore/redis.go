package statestore

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis implements Store backed by Redis, used when multiple CC worker
// processes need a shared view of the instance/resource caches instead of
// (or in addition to) the mmap checkpoint file — see SPEC_FULL.md §11.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // default "cc:state:"
}

// NewRedis creates a Redis-backed store.
func NewRedis(cfg RedisConfig) *Redis {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "cc:state:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

// SetFresh stamps payload with the current time and stores it with a
// Redis-side TTL. The TTL bounds how long the key survives at all; GetFresh's
// maxAge bounds how long the payload is trusted as current, independent of
// that TTL (a long TTL can still be freshness-checked against a short
// maxAge).
func (r *Redis) SetFresh(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	data, err := encodeEnvelope(payload, time.Now())
	if err != nil {
		return err
	}
	return r.Set(ctx, key, data, ttl)
}

// GetFresh decodes the envelope written by SetFresh and rejects it with
// ErrStale if it was published longer than maxAge ago. A key written by the
// plain Set (no envelope) fails to decode and is reported as ErrNotFound.
func (r *Redis) GetFresh(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, error) {
	data, err := r.Get(ctx, key)
	if err != nil {
		return nil, time.Time{}, err
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, time.Time{}, ErrNotFound
	}
	if maxAge > 0 && time.Since(env.PublishedAt) > maxAge {
		return env.Payload, env.PublishedAt, ErrStale
	}
	return env.Payload, env.PublishedAt, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
