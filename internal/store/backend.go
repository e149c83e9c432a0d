package store

import (
	"context"
	"errors"
)

// ErrBackendClosed is returned by backends used after Close.
var ErrBackendClosed = errors.New("store backend closed")

// Backend is durable byte-level key/value storage. Implementations must be
// safe for concurrent use. Missing keys are not errors.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, bool, error)
	// ReadMany returns only the keys that exist.
	ReadMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	WriteMany(ctx context.Context, entries map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteIfUnchanged deletes each key whose stored bytes still equal its
	// snapshot, so a concurrent rewrite survives. It reports how many keys
	// were deleted.
	DeleteIfUnchanged(ctx context.Context, snapshot map[string][]byte) (int, error)
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}
