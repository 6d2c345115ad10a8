package statestore

import (
	"context"
	"time"
)

// Tiered implements Store with a fast L1 (in-memory) backed by a shared L2
// (typically Redis). Reads check L1 first, falling through to L2 on miss
// and populating L1 on L2 hit. Writes go to both layers.
type Tiered struct {
	l1    Store
	l2    Store
	l1TTL time.Duration
}

// NewTiered creates a two-level store. l1TTL defaults to 10s.
func NewTiered(l1, l2 Store, l1TTL time.Duration) *Tiered {
	if l1TTL <= 0 {
		l1TTL = 10 * time.Second
	}
	return &Tiered{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := t.l1.Get(ctx, key); err == nil {
		return val, nil
	}
	val, err := t.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = t.l1.Set(ctx, key, val, t.l1TTL)
	return val, nil
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = t.l1.Set(ctx, key, value, t.l1TTL)
	return t.l2.Set(ctx, key, value, ttl)
}

// SetFresh stamps payload once and writes the same envelope bytes to both
// layers, so a later GetFresh sees an identical PublishedAt regardless of
// which layer answers it.
func (t *Tiered) SetFresh(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	data, err := encodeEnvelope(payload, time.Now())
	if err != nil {
		return err
	}
	_ = t.l1.Set(ctx, key, data, t.l1TTL)
	return t.l2.Set(ctx, key, data, ttl)
}

// GetFresh checks L1 first: an L1 hit that is itself stale is not trusted
// blindly — L2 may hold a more recently republished copy if L1's TTL let an
// old envelope linger — so a stale L1 entry falls through to L2 rather than
// returning ErrStale outright. L2 hits repopulate L1.
func (t *Tiered) GetFresh(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, error) {
	if val, ts, err := t.l1.GetFresh(ctx, key, maxAge); err == nil {
		return val, ts, nil
	}
	data, err := t.l2.Get(ctx, key)
	if err != nil {
		return nil, time.Time{}, err
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, time.Time{}, ErrNotFound
	}
	_ = t.l1.Set(ctx, key, data, t.l1TTL)
	if maxAge > 0 && time.Since(env.PublishedAt) > maxAge {
		return env.Payload, env.PublishedAt, ErrStale
	}
	return env.Payload, env.PublishedAt, nil
}

func (t *Tiered) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

func (t *Tiered) Ping(ctx context.Context) error {
	if err := t.l1.Ping(ctx); err != nil {
		return err
	}
	return t.l2.Ping(ctx)
}

func (t *Tiered) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}
