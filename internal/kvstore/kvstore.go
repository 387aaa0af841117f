// Package kvstore defines the persistence boundary every component reaches
// through rather than talking to a storage engine directly: an opaque
// key-to-blob interface with optional per-key TTL.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when key does not exist (or has expired).
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the persistence boundary for relaycore's caches: the feed's
// snapshot, the profile cache's persisted entries, and the discovery
// catalog's REST/NIP-66 results all go through Store rather than a
// storage-engine-specific API.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value at key with no expiration.
	Put(ctx context.Context, key string, value []byte) error
	// PutTTL stores value at key, to expire after ttlSeconds.
	PutTTL(ctx context.Context, key string, value []byte, ttlSeconds int) error
	// Delete removes key, if present. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Scan calls fn for every key with the given prefix, stopping early if
	// fn returns false.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error
	// Close releases the underlying storage engine's resources.
	Close() error
}
