// Package statestore defines an abstract key-value store used as an
// optional cross-process mirror of the instance and resource caches.
// Implementations may use an in-process map (default, single CC daemon),
// Redis (multiple CC worker processes sharing a fleet view), or a tiered
// combination of both. Adapted from the teacher's internal/cache package;
// renamed and re-scoped here to back cmd/cc's periodic fleet-state
// republish (runMirrorLoop) rather than per-request hot-path reads.
//
// SPEC_FULL.md §11 requires the mirror to expose freshness, not just raw
// TTL expiry: a stale-but-present entry (the republish loop wedged, or a
// worker process fell behind C8's polling cadence) must be distinguishable
// from both a fresh entry and an absent one. SetFresh/GetFresh carry a
// publish timestamp alongside the payload so callers can bound staleness
// against the monitor's own polling period instead of trusting a Redis TTL
// that only proves "not yet expired," not "recently written."
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("statestore: key not found")

// ErrStale is returned by GetFresh when an entry exists but was published
// longer than maxAge ago.
var ErrStale = errors.New("statestore: entry is stale")

// Envelope wraps a mirrored payload with the time it was published, so
// GetFresh can judge staleness independent of whatever TTL the backend
// enforces.
type Envelope struct {
	PublishedAt time.Time `json:"published_at"`
	Payload     []byte    `json:"payload"`
}

// Store abstracts a key-value store with TTL support. All operations are
// safe for concurrent use.
type Store interface {
	// Get retrieves the value associated with key. Returns ErrNotFound if
	// the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL means the entry
	// does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetFresh stores payload wrapped in an Envelope stamped with the
	// current time, so a later GetFresh can judge how stale it is.
	SetFresh(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// GetFresh retrieves payload and its publish time, failing with
	// ErrStale if it was published longer than maxAge ago (a zero maxAge
	// disables the staleness check and behaves like Get). Returns
	// ErrNotFound if the key is absent or was written by a plain Set.
	GetFresh(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, error)

	// Delete removes a key. Not an error to delete a missing key.
	Delete(ctx context.Context, key string) error

	// Ping verifies connectivity to the underlying backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the implementation.
	Close() error
}

// encodeEnvelope and decodeEnvelope are shared by every Store
// implementation's SetFresh/GetFresh so the wire format stays consistent
// across InMemory, Redis, and Tiered.
func encodeEnvelope(payload []byte, publishedAt time.Time) ([]byte, error) {
	return json.Marshal(Envelope{PublishedAt: publishedAt, Payload: payload})
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
