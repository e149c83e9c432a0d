package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *MemoryBackend, *fakeClock) {
	t.Helper()
	backend := NewMemoryBackend()
	clock := newFakeClock()
	return New(backend, nil, WithClock(clock.Now)), backend, clock
}

type vehicle struct {
	Make  string   `json:"make"`
	Year  int      `json:"year"`
	Notes []string `json:"notes"`
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.True(t, s.Set(ctx, "str", "hello").Value)
	require.True(t, s.Set(ctx, "num", 42.5).Value)
	require.True(t, s.Set(ctx, "obj", vehicle{Make: "Volvo", Year: 2019, Notes: []string{"brakes"}}).Value)
	require.True(t, s.Set(ctx, "map", map[string]any{"a": true, "b": []any{1.0, "x"}}).Value)

	assert.Equal(t, "hello", Get(ctx, s, "str", "").Value)
	assert.Equal(t, 42.5, Get(ctx, s, "num", 0.0).Value)
	assert.Equal(t, vehicle{Make: "Volvo", Year: 2019, Notes: []string{"brakes"}}, Get(ctx, s, "obj", vehicle{}).Value)
	assert.Equal(t, map[string]any{"a": true, "b": []any{1.0, "x"}}, Get[map[string]any](ctx, s, "map", nil).Value)
}

func TestGetReturnsDefault(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)

	res := Get(ctx, s, "missing", "fallback")
	assert.True(t, res.OK())
	assert.Equal(t, "fallback", res.Value)

	require.NoError(t, backend.Write(ctx, "corrupt", []byte("{oops")))
	res = Get(ctx, s, "corrupt", "fallback")
	assert.False(t, res.OK())
	assert.Equal(t, KindParse, res.Err.Kind)
	assert.Equal(t, "fallback", res.Value)

	require.True(t, s.Set(ctx, "wrong-type", "text").Value)
	num := Get(ctx, s, "wrong-type", 7)
	assert.Equal(t, 7, num.Value)
	assert.Equal(t, KindParse, num.Err.Kind)
}

func TestSetRejectsUnserializableValue(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)

	res := s.Set(ctx, "bad", make(chan int))
	assert.False(t, res.Value)
	require.NotNil(t, res.Err)
	assert.Equal(t, KindSerialize, res.Err.Kind)
	assert.Equal(t, OpSet, res.Err.Op)

	_, found, err := backend.Read(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExpirationInvariant(t *testing.T) {
	ctx := context.Background()
	s, backend, clock := newTestStore(t)

	require.True(t, s.SetWithExpiration(ctx, "otp", "1234", time.Minute).Value)

	clock.Advance(59 * time.Second)
	assert.Equal(t, "1234", GetWithExpiration(ctx, s, "otp", "").Value)
	assert.True(t, s.Exists(ctx, "otp").Value)

	clock.Advance(time.Second)
	assert.Equal(t, "none", GetWithExpiration(ctx, s, "otp", "none").Value)

	_, found, err := backend.Read(ctx, "otp")
	require.NoError(t, err)
	assert.False(t, found, "expired read must delete the key")
}

func TestExpiredEntryInvisibleToEveryRead(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	require.True(t, s.SetWithExpiration(ctx, "a", 1, time.Second).Value)
	require.True(t, s.SetWithExpiration(ctx, "b", 2, time.Second).Value)
	require.True(t, s.SetWithExpiration(ctx, "c", 3, time.Second).Value)
	require.True(t, s.Set(ctx, "live", 4).Value)
	clock.Advance(2 * time.Second)

	assert.False(t, s.Exists(ctx, "a").Value)
	assert.Nil(t, s.GetRaw(ctx, "b").Value)

	multi := s.GetMultiple(ctx, []string{"c", "live"}).Value
	assert.Nil(t, multi["c"])
	assert.JSONEq(t, "4", string(multi["live"]))

	assert.Equal(t, []string{"live"}, s.Keys(ctx).Value)
}

func TestExpirationWithRealClock(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), nil)

	require.True(t, s.SetWithExpiration(ctx, "k", "v", 100*time.Millisecond).Value)
	time.Sleep(150 * time.Millisecond)

	res := GetWithExpiration[*string](ctx, s, "k", nil)
	assert.True(t, res.OK())
	assert.Nil(t, res.Value)
	assert.False(t, s.Exists(ctx, "k").Value)
}

func TestBatchOperations(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)

	require.True(t, s.SetMultiple(ctx, map[string]any{
		"token": "abc",
		"user":  map[string]any{"id": "1"},
	}).Value)
	require.NoError(t, backend.Write(ctx, "broken", []byte(`"no envelope"`)))

	res := s.GetMultiple(ctx, []string{"token", "user", "broken", "missing"})
	require.True(t, res.OK())
	assert.Len(t, res.Value, 4)
	assert.JSONEq(t, `"abc"`, string(res.Value["token"]))
	assert.JSONEq(t, `{"id":"1"}`, string(res.Value["user"]))
	assert.Nil(t, res.Value["broken"])
	assert.Nil(t, res.Value["missing"])

	require.True(t, s.RemoveMultiple(ctx, []string{"token", "user"}).Value)
	assert.False(t, s.Exists(ctx, "token").Value)
	assert.False(t, s.Exists(ctx, "user").Value)
}

func TestSetMultipleIsAllOrNothingOnSerialization(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	res := s.SetMultiple(ctx, map[string]any{"good": 1, "bad": func() {}})
	assert.False(t, res.Value)
	assert.Equal(t, KindSerialize, res.Err.Kind)
	assert.False(t, s.Exists(ctx, "good").Value)
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	s, backend, clock := newTestStore(t)

	require.True(t, s.SetWithExpiration(ctx, "short-1", 1, time.Second).Value)
	require.True(t, s.SetWithExpiration(ctx, "short-2", 2, time.Second).Value)
	require.True(t, s.SetWithExpiration(ctx, "long", 3, time.Hour).Value)
	require.True(t, s.Set(ctx, "forever", 4).Value)
	require.NoError(t, backend.Write(ctx, "garbage", []byte("][")))

	assert.Equal(t, 0, s.CleanupExpired(ctx).Value)

	clock.Advance(time.Minute)
	res := s.CleanupExpired(ctx)
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Value)

	keys, err := backend.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"long", "forever", "garbage"}, keys)
}

// rewritingBackend lets a test write to the inner backend right before an
// expired entry is deleted.
type rewritingBackend struct {
	*MemoryBackend
	beforeDelete func()
}

func (b *rewritingBackend) DeleteIfUnchanged(ctx context.Context, snapshot map[string][]byte) (int, error) {
	if b.beforeDelete != nil {
		b.beforeDelete()
		b.beforeDelete = nil
	}
	return b.MemoryBackend.DeleteIfUnchanged(ctx, snapshot)
}

func TestExpiredPurgeKeepsConcurrentRewrite(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := &rewritingBackend{MemoryBackend: NewMemoryBackend()}
	s := New(backend, nil, WithClock(clock.Now))

	require.True(t, s.SetWithExpiration(ctx, "token", "old", time.Minute).Value)
	clock.Advance(2 * time.Minute)

	backend.beforeDelete = func() {
		require.True(t, s.Set(ctx, "token", "fresh").Value)
	}
	assert.Equal(t, "", Get(ctx, s, "token", "").Value)
	assert.Equal(t, "fresh", Get(ctx, s, "token", "").Value)
}

func TestCleanupExpiredKeepsConcurrentRewrite(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := &rewritingBackend{MemoryBackend: NewMemoryBackend()}
	s := New(backend, nil, WithClock(clock.Now))

	require.True(t, s.SetWithExpiration(ctx, "a", 1, time.Minute).Value)
	require.True(t, s.SetWithExpiration(ctx, "b", 2, time.Minute).Value)
	clock.Advance(2 * time.Minute)

	backend.beforeDelete = func() {
		require.True(t, s.SetWithExpiration(ctx, "a", 10, time.Hour).Value)
	}
	assert.Equal(t, 1, s.CleanupExpired(ctx).Value)
	assert.Equal(t, 10, Get(ctx, s, "a", 0).Value)
	assert.False(t, s.Exists(ctx, "b").Value)
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	require.True(t, s.Merge(ctx, "prefs", map[string]any{"theme": "dark"}).Value)
	require.True(t, s.Merge(ctx, "prefs", map[string]any{"lang": "en", "theme": "light"}).Value)
	assert.Equal(t, map[string]any{"theme": "light", "lang": "en"}, Get[map[string]any](ctx, s, "prefs", nil).Value)

	require.True(t, s.SetWithExpiration(ctx, "draft", map[string]any{"a": 1}, time.Minute).Value)
	require.True(t, s.Merge(ctx, "draft", map[string]any{"b": 2}).Value)
	clock.Advance(2 * time.Minute)
	assert.False(t, s.Exists(ctx, "draft").Value, "merge keeps the existing expiration")

	require.True(t, s.Set(ctx, "scalar", "text").Value)
	res := s.Merge(ctx, "scalar", map[string]any{"a": 1})
	assert.False(t, res.Value)
	assert.Equal(t, KindParse, res.Err.Kind)
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.True(t, s.Set(ctx, "a", 1).Value)
	require.True(t, s.Set(ctx, "b", 2).Value)

	assert.True(t, s.Remove(ctx, "a").Value)
	assert.True(t, s.Remove(ctx, "a").Value)
	assert.False(t, s.Exists(ctx, "a").Value)

	assert.True(t, s.Clear(ctx).Value)
	assert.Empty(t, s.Keys(ctx).Value)
}

type failingBackend struct{}

var errDiskFull = errors.New("disk full")

func (failingBackend) Read(context.Context, string) ([]byte, bool, error) {
	return nil, false, errDiskFull
}

func (failingBackend) ReadMany(context.Context, []string) (map[string][]byte, error) {
	return nil, errDiskFull
}

func (failingBackend) Write(context.Context, string, []byte) error        { return errDiskFull }
func (failingBackend) WriteMany(context.Context, map[string][]byte) error { return errDiskFull }
func (failingBackend) Delete(context.Context, ...string) error            { return errDiskFull }
func (failingBackend) Keys(context.Context) ([]string, error)             { return nil, errDiskFull }
func (failingBackend) Clear(context.Context) error                        { return errDiskFull }
func (failingBackend) Close() error                                       { return nil }

func (failingBackend) DeleteIfUnchanged(context.Context, map[string][]byte) (int, error) {
	return 0, errDiskFull
}

func requireBackendError(t *testing.T, err *StorageError) {
	t.Helper()
	require.NotNil(t, err)
	assert.Equal(t, KindBackend, err.Kind)
	assert.ErrorIs(t, err, errDiskFull)
}

func TestBackendFailuresAreBenign(t *testing.T) {
	ctx := context.Background()
	s := New(failingBackend{}, nil)

	set := s.Set(ctx, "k", 1)
	assert.False(t, set.Value)
	requireBackendError(t, set.Err)

	get := Get(ctx, s, "k", "def")
	assert.Equal(t, "def", get.Value)
	requireBackendError(t, get.Err)

	exists := s.Exists(ctx, "k")
	assert.False(t, exists.Value)
	requireBackendError(t, exists.Err)

	remove := s.Remove(ctx, "k")
	assert.False(t, remove.Value)
	requireBackendError(t, remove.Err)

	cleared := s.Clear(ctx)
	assert.False(t, cleared.Value)
	requireBackendError(t, cleared.Err)

	cleanup := s.CleanupExpired(ctx)
	assert.Zero(t, cleanup.Value)
	requireBackendError(t, cleanup.Err)

	merge := s.Merge(ctx, "k", map[string]any{"a": 1})
	assert.False(t, merge.Value)
	requireBackendError(t, merge.Err)

	setMany := s.SetMultiple(ctx, map[string]any{"k": 1})
	assert.False(t, setMany.Value)
	requireBackendError(t, setMany.Err)

	removeMany := s.RemoveMultiple(ctx, []string{"k"})
	assert.False(t, removeMany.Value)
	requireBackendError(t, removeMany.Err)

	getMany := s.GetMultiple(ctx, []string{"k"})
	assert.Empty(t, getMany.Value)
	requireBackendError(t, getMany.Err)

	keys := s.Keys(ctx)
	assert.Empty(t, keys.Value)
	requireBackendError(t, keys.Err)
}

func TestResultUnwrap(t *testing.T) {
	ctx := context.Background()
	s := New(failingBackend{}, nil)

	v, err := Get(ctx, s, "k", "def").Unwrap()
	assert.Equal(t, "def", v)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, OpGet, serr.Op)
	assert.Contains(t, serr.Error(), `"k"`)

	good, _, _ := newTestStore(t)
	v2, err := good.Set(ctx, "k", json.RawMessage(`{"a":1}`)).Unwrap()
	assert.NoError(t, err)
	assert.True(t, v2)
}
