package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/pkg/retry"
)

// TTLProgressCache is the default TTL for cached progression documents.
const TTLProgressCache = 10 * time.Minute

// ProgressCache is a read-through, write-through cache in front of a
// durable document store. Cache failures never fail the caller.
type ProgressCache struct {
	cache   *Cache
	next    ranks.SnapshotStore
	ttl     time.Duration
	logger  *slog.Logger
	retrier *retry.Retrier
}

var _ ranks.SnapshotStore = (*ProgressCache)(nil)

// NewProgressCache wraps next with a Redis cache.
func NewProgressCache(cache *Cache, next ranks.SnapshotStore, ttl time.Duration, logger *slog.Logger) *ProgressCache {
	if ttl <= 0 {
		ttl = TTLProgressCache
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressCache{
		cache:  cache,
		next:   next,
		ttl:    ttl,
		logger: logger.With("component", "progress_cache"),
		retrier: retry.CacheRetrier(retry.WithRetryIf(func(err error) bool {
			return !errors.Is(err, ErrCacheMiss)
		})),
	}
}

// ProgressKey returns the cache key of a user's document.
func (s *ProgressCache) ProgressKey(userID string) string {
	return s.cache.Key(PrefixProgress, userID)
}

// Load returns the cached document or falls through to the store.
func (s *ProgressCache) Load(ctx context.Context, userID string) (progression.Document, error) {
	key := s.ProgressKey(userID)

	data, err := retry.DoWithData(ctx, s.retrier, func(ctx context.Context) ([]byte, error) {
		return s.cache.Fetch(ctx, key)
	})
	switch {
	case err == nil:
		doc, decErr := progression.DecodeDocument(data)
		if decErr == nil {
			return doc, nil
		}
		s.logger.Warn("dropping undecodable cache entry", "user_id", userID, "error", decErr)
		_ = s.cache.Delete(ctx, key)
	case errors.Is(err, ErrCacheMiss):
	default:
		s.logger.Warn("cache read failed", "user_id", userID, "error", err)
	}

	doc, err := s.next.Load(ctx, userID)
	if err != nil {
		return progression.Document{}, err
	}
	s.put(ctx, doc)
	return doc, nil
}

// Save writes to the store first, then refreshes the cache.
func (s *ProgressCache) Save(ctx context.Context, doc progression.Document) error {
	if err := s.next.Save(ctx, doc); err != nil {
		return err
	}
	s.put(ctx, doc)
	return nil
}

// Invalidate drops a user's cached document.
func (s *ProgressCache) Invalidate(ctx context.Context, userID string) error {
	if err := s.cache.Delete(ctx, s.ProgressKey(userID)); err != nil {
		return fmt.Errorf("invalidate %s: %w", userID, err)
	}
	return nil
}

func (s *ProgressCache) put(ctx context.Context, doc progression.Document) {
	data, err := doc.Encode()
	if err != nil {
		s.logger.Warn("encode document for cache", "user_id", doc.UserID, "error", err)
		return
	}
	if err := s.cache.Put(ctx, s.ProgressKey(doc.UserID), data, s.ttl); err != nil {
		s.logger.Warn("cache write failed", "user_id", doc.UserID, "error", err)
	}
}
