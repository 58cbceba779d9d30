package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

func TestConfigOptions(t *testing.T) {
	opts, err := DefaultConfig().Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 10, opts.PoolSize)

	cfg := DefaultConfig()
	cfg.URL = "redis://:secret@cache.internal:6380/3"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.Error(t, err)
}

// newTestCache connects to the Redis named by RANKS_TEST_REDIS_ADDR.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("RANKS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RANKS_TEST_REDIS_ADDR not set")
	}
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.KeyPrefix = "ranks-test:" + t.Name() + ":"
	c, err := NewCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type memStore struct {
	mu    sync.Mutex
	docs  map[string]progression.Document
	loads int
}

func (m *memStore) Load(_ context.Context, userID string) (progression.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	doc, ok := m.docs[userID]
	if !ok {
		return progression.Document{}, shared.ErrNotFound
	}
	return doc, nil
}

func (m *memStore) Save(_ context.Context, doc progression.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.UserID] = doc
	return nil
}

func TestCache_PutFetch(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := c.Key("k")

	_, err := c.Fetch(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Put(ctx, key, []byte(`{"xp":10}`), time.Minute))
	data, err := c.Fetch(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"xp":10}`, string(data))

	assert.ErrorIs(t, c.Put(ctx, "", nil, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Put(ctx, key, nil, -time.Second), ErrCacheInvalidTTL)
	require.NoError(t, c.Delete(ctx, key))
}

func TestCache_Key(t *testing.T) {
	c := NewCacheFromClient(nil, "ranks:")
	assert.Equal(t, "ranks:progress:alice", c.Key(PrefixProgress, "alice"))
}

func TestProgressCache_ReadThrough(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	engine := progression.MustNewEngine()
	state := engine.NewState("alice")
	backing := &memStore{docs: map[string]progression.Document{
		"alice": progression.NewDocument(state, 7, engine.Now()),
	}}
	sc := NewProgressCache(c, backing, time.Minute, nil)
	t.Cleanup(func() { _ = sc.Invalidate(ctx, "alice") })

	doc, err := sc.Load(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 7, doc.Revision)

	doc, err = sc.Load(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 7, doc.Revision)
	assert.Equal(t, 1, backing.loads)

	_, err = sc.Load(ctx, "nobody")
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}
