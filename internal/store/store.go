package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Operation names reported in StorageError.Op.
const (
	OpGet            = "get"
	OpSet            = "set"
	OpRemove         = "remove"
	OpClear          = "clear"
	OpExists         = "exists"
	OpKeys           = "keys"
	OpGetMultiple    = "get_multiple"
	OpSetMultiple    = "set_multiple"
	OpRemoveMultiple = "remove_multiple"
	OpCleanup        = "cleanup_expired"
	OpMerge          = "merge"
)

// Store is a JSON key/value store with optional per-entry expiration over a
// Backend. No operation panics or returns a bare error: failures are logged
// and reported through Result alongside a benign fallback value.
type Store struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	// mergeMu serializes read-modify-write cycles within the process.
	mergeMu sync.Mutex
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiration checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Store over backend.
func New(backend Backend, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Set serializes value and stores it without expiration.
func (s *Store) Set(ctx context.Context, key string, value any) Result[bool] {
	return s.write(ctx, OpSet, key, value, nil)
}

// SetWithExpiration stores value so that it is treated as absent once ttl
// has elapsed.
func (s *Store) SetWithExpiration(ctx context.Context, key string, value any, ttl time.Duration) Result[bool] {
	expiresAt := s.now().Add(ttl)
	return s.write(ctx, OpSet, key, value, &expiresAt)
}

// GetRaw returns the stored JSON for key, or nil when it is missing or expired.
func (s *Store) GetRaw(ctx context.Context, key string) Result[json.RawMessage] {
	env, found, serr := s.readEnvelope(ctx, OpGet, key)
	if serr != nil {
		return Result[json.RawMessage]{Err: serr}
	}
	if !found {
		return ok[json.RawMessage](nil)
	}
	return ok(env.Value)
}

// Get decodes the value stored under key into T. It returns def when the key
// is missing, expired, or cannot be decoded.
func Get[T any](ctx context.Context, s *Store, key string, def T) Result[T] {
	env, found, serr := s.readEnvelope(ctx, OpGet, key)
	if serr != nil {
		return Result[T]{Value: def, Err: serr}
	}
	if !found {
		return ok(def)
	}
	var v T
	if err := json.Unmarshal(env.Value, &v); err != nil {
		return Result[T]{Value: def, Err: s.fail(OpGet, key, KindParse, err)}
	}
	return ok(v)
}

// GetWithExpiration reads a value written by SetWithExpiration. An entry
// whose expiration has passed is deleted and def is returned; a caller never
// observes an expired value.
func GetWithExpiration[T any](ctx context.Context, s *Store, key string, def T) Result[T] {
	return Get(ctx, s, key, def)
}

// Exists reports whether key holds a live entry.
func (s *Store) Exists(ctx context.Context, key string) Result[bool] {
	_, found, serr := s.readEnvelope(ctx, OpExists, key)
	if serr != nil {
		return Result[bool]{Value: false, Err: serr}
	}
	return ok(found)
}

// Remove deletes key. Removing a missing key succeeds.
func (s *Store) Remove(ctx context.Context, key string) Result[bool] {
	if err := s.backend.Delete(ctx, key); err != nil {
		return Result[bool]{Value: false, Err: s.fail(OpRemove, key, KindBackend, err)}
	}
	return ok(true)
}

// Clear deletes every entry in the store's namespace.
func (s *Store) Clear(ctx context.Context) Result[bool] {
	if err := s.backend.Clear(ctx); err != nil {
		return Result[bool]{Value: false, Err: s.fail(OpClear, "", KindBackend, err)}
	}
	return ok(true)
}

// Keys lists live keys. Expired entries encountered are deleted.
func (s *Store) Keys(ctx context.Context) Result[[]string] {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return Result[[]string]{Value: []string{}, Err: s.fail(OpKeys, "", KindBackend, err)}
	}
	raw, err := s.backend.ReadMany(ctx, keys)
	if err != nil {
		return Result[[]string]{Value: []string{}, Err: s.fail(OpKeys, "", KindBackend, err)}
	}

	now := s.now()
	live := make([]string, 0, len(keys))
	expired := map[string][]byte{}
	for _, key := range keys {
		data, found := raw[key]
		if !found {
			continue
		}
		env, err := decodeEnvelope(data)
		if err == nil && env.expired(now) {
			expired[key] = data
			continue
		}
		live = append(live, key)
	}
	s.purge(ctx, OpKeys, expired)
	return ok(live)
}

// GetMultiple returns the raw JSON for each requested key. Missing, expired,
// and undecodable keys map to nil without aborting the batch.
func (s *Store) GetMultiple(ctx context.Context, keys []string) Result[map[string]json.RawMessage] {
	out := make(map[string]json.RawMessage, len(keys))
	raw, err := s.backend.ReadMany(ctx, keys)
	if err != nil {
		return Result[map[string]json.RawMessage]{
			Value: map[string]json.RawMessage{},
			Err:   s.fail(OpGetMultiple, "", KindBackend, err),
		}
	}

	now := s.now()
	expired := map[string][]byte{}
	for _, key := range keys {
		out[key] = nil
		data, found := raw[key]
		if !found {
			continue
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			s.fail(OpGetMultiple, key, KindParse, err)
			continue
		}
		if env.expired(now) {
			expired[key] = data
			continue
		}
		out[key] = env.Value
	}
	s.purge(ctx, OpGetMultiple, expired)
	return ok(out)
}

// SetMultiple stores every entry. If any value cannot be serialized nothing
// is written.
func (s *Store) SetMultiple(ctx context.Context, entries map[string]any) Result[bool] {
	encoded := make(map[string][]byte, len(entries))
	for key, value := range entries {
		data, err := encodeEnvelope(value, nil)
		if err != nil {
			return Result[bool]{Value: false, Err: s.fail(OpSetMultiple, key, KindSerialize, err)}
		}
		encoded[key] = data
	}
	if err := s.backend.WriteMany(ctx, encoded); err != nil {
		return Result[bool]{Value: false, Err: s.fail(OpSetMultiple, "", KindBackend, err)}
	}
	return ok(true)
}

// RemoveMultiple deletes every listed key.
func (s *Store) RemoveMultiple(ctx context.Context, keys []string) Result[bool] {
	if err := s.backend.Delete(ctx, keys...); err != nil {
		return Result[bool]{Value: false, Err: s.fail(OpRemoveMultiple, "", KindBackend, err)}
	}
	return ok(true)
}

// CleanupExpired deletes every expired entry and returns how many were
// removed. Undecodable entries are left in place, and so is an entry that
// was rewritten after it was found expired.
func (s *Store) CleanupExpired(ctx context.Context) Result[int] {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return Result[int]{Value: 0, Err: s.fail(OpCleanup, "", KindBackend, err)}
	}
	raw, err := s.backend.ReadMany(ctx, keys)
	if err != nil {
		return Result[int]{Value: 0, Err: s.fail(OpCleanup, "", KindBackend, err)}
	}

	now := s.now()
	expired := map[string][]byte{}
	for key, data := range raw {
		env, err := decodeEnvelope(data)
		if err != nil {
			continue
		}
		if env.expired(now) {
			expired[key] = data
		}
	}
	if len(expired) == 0 {
		return ok(0)
	}
	removed, err := s.backend.DeleteIfUnchanged(ctx, expired)
	if err != nil {
		return Result[int]{Value: removed, Err: s.fail(OpCleanup, "", KindBackend, err)}
	}
	s.logger.Debug("expired entries removed", zap.Int("count", removed))
	return ok(removed)
}

// Merge shallow-merges partial into the JSON object stored under key
// (treated as {} when absent) and writes the result back, keeping any
// existing expiration.
func (s *Store) Merge(ctx context.Context, key string, partial map[string]any) Result[bool] {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()

	env, found, serr := s.readEnvelope(ctx, OpMerge, key)
	if serr != nil {
		return Result[bool]{Value: false, Err: serr}
	}

	merged := map[string]json.RawMessage{}
	var expiresAt *time.Time
	if found {
		if err := json.Unmarshal(env.Value, &merged); err != nil {
			return Result[bool]{Value: false, Err: s.fail(OpMerge, key, KindParse, fmt.Errorf("existing value is not an object: %w", err))}
		}
		if merged == nil {
			merged = map[string]json.RawMessage{}
		}
		expiresAt = env.expiresAt()
	}
	for k, v := range partial {
		data, err := json.Marshal(v)
		if err != nil {
			return Result[bool]{Value: false, Err: s.fail(OpMerge, key, KindSerialize, err)}
		}
		merged[k] = data
	}
	return s.write(ctx, OpMerge, key, merged, expiresAt)
}

func (s *Store) write(ctx context.Context, op, key string, value any, expiresAt *time.Time) Result[bool] {
	data, err := encodeEnvelope(value, expiresAt)
	if err != nil {
		return Result[bool]{Value: false, Err: s.fail(op, key, KindSerialize, err)}
	}
	if err := s.backend.Write(ctx, key, data); err != nil {
		return Result[bool]{Value: false, Err: s.fail(op, key, KindBackend, err)}
	}
	return ok(true)
}

// readEnvelope loads and decodes key. Expired entries are deleted before the
// miss is reported.
func (s *Store) readEnvelope(ctx context.Context, op, key string) (envelope, bool, *StorageError) {
	data, found, err := s.backend.Read(ctx, key)
	if err != nil {
		return envelope{}, false, s.fail(op, key, KindBackend, err)
	}
	if !found {
		return envelope{}, false, nil
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return envelope{}, false, s.fail(op, key, KindParse, err)
	}
	if env.expired(s.now()) {
		s.purge(ctx, op, map[string][]byte{key: data})
		return envelope{}, false, nil
	}
	return env, true, nil
}

// purge deletes expired entries, each only while it still holds the bytes
// that were found expired.
func (s *Store) purge(ctx context.Context, op string, expired map[string][]byte) {
	if len(expired) == 0 {
		return
	}
	if _, err := s.backend.DeleteIfUnchanged(ctx, expired); err != nil {
		keys := make([]string, 0, len(expired))
		for key := range expired {
			keys = append(keys, key)
		}
		s.logger.Warn("failed to delete expired entries",
			zap.String("op", op),
			zap.Strings("keys", keys),
			zap.Error(err))
	}
}

func (s *Store) fail(op, key string, kind ErrorKind, err error) *StorageError {
	serr := &StorageError{Op: op, Key: key, Kind: kind, Err: err}
	s.logger.Warn("store operation failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return serr
}
