package ranks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSIONS
// Registry of live stores, one per user, created on first access.
// ══════════════════════════════════════════════════════════════════════════════

// Sessions hands out stores and hydrates them on first use.
type Sessions struct {
	engine    *progression.Engine
	loader    SnapshotLoader
	source    RankSource
	storeOpts []Option
	logger    *slog.Logger
	idleTTL   time.Duration

	mu       sync.RWMutex
	stores   map[string]*Store
	lastSeen map[string]time.Time

	// loads collapses concurrent first accesses of one user into a single
	// hydration.
	loads singleflight.Group
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithSnapshotLoader restores persisted documents for new sessions.
func WithSnapshotLoader(l SnapshotLoader) SessionsOption {
	return func(s *Sessions) { s.loader = l }
}

// WithRemoteHydration fetches remote progress for users without a snapshot.
func WithRemoteHydration(src RankSource) SessionsOption {
	return func(s *Sessions) { s.source = src }
}

// WithStoreOptions applies opts to every store the registry creates.
func WithStoreOptions(opts ...Option) SessionsOption {
	return func(s *Sessions) { s.storeOpts = append(s.storeOpts, opts...) }
}

// WithIdleTTL makes Flush evict clean sessions not requested through Get
// for longer than ttl. Zero keeps sessions until Evict.
func WithIdleTTL(ttl time.Duration) SessionsOption {
	return func(s *Sessions) { s.idleTTL = ttl }
}

// WithSessionsLogger sets the structured logger.
func WithSessionsLogger(l *slog.Logger) SessionsOption {
	return func(s *Sessions) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSessions creates an empty registry.
func NewSessions(engine *progression.Engine, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		engine: engine,
		logger: slog.Default(),
		stores:   make(map[string]*Store),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "ranks_sessions")
	if s.source != nil {
		s.storeOpts = append([]Option{WithRankSource(s.source)}, s.storeOpts...)
	}
	return s
}

// Engine returns the engine shared by all sessions.
func (s *Sessions) Engine() *progression.Engine {
	return s.engine
}

// Get returns the store for userID, creating and hydrating it if needed.
// Concurrent callers for a user that is not live yet share one hydration.
// A failed remote hydration still yields a store with the error surfaced.
func (s *Sessions) Get(ctx context.Context, userID string) (*Store, error) {
	if st, ok := s.Peek(userID); ok {
		s.touch(userID)
		return st, nil
	}

	v, err, _ := s.loads.Do(userID, func() (any, error) {
		if st, ok := s.Peek(userID); ok {
			return st, nil
		}
		st, err := s.create(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.stores[userID] = st
		s.lastSeen[userID] = s.engine.Now()
		s.mu.Unlock()
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

func (s *Sessions) create(ctx context.Context, userID string) (*Store, error) {
	st, err := NewStore(s.engine, userID, s.storeOpts...)
	if err != nil {
		return nil, err
	}

	if s.loader != nil {
		doc, err := s.loader.Load(ctx, userID)
		switch {
		case err == nil:
			if err := st.Restore(doc); err != nil {
				return nil, fmt.Errorf("restore %s: %w", userID, err)
			}
			return st, nil
		case errors.Is(err, shared.ErrNotFound):
		default:
			return nil, fmt.Errorf("load snapshot %s: %w", userID, err)
		}
	}

	if s.source != nil {
		if err := st.FetchUserProgress(ctx); err != nil {
			s.logger.Warn("remote hydration failed",
				"user_id", userID,
				"error", err,
			)
		}
	}
	return st, nil
}

func (s *Sessions) touch(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[userID]; ok {
		s.lastSeen[userID] = s.engine.Now()
	}
}

// Peek returns an existing store without creating one. It does not count
// as an access for idle eviction.
func (s *Sessions) Peek(userID string) (*Store, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[userID]
	return st, ok
}

// Evict drops a session from memory.
func (s *Sessions) Evict(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stores, userID)
	delete(s.lastSeen, userID)
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stores)
}

// All returns the live stores ordered by user ID.
func (s *Sessions) All() []*Store {
	s.mu.RLock()
	ids := make([]string, 0, len(s.stores))
	for id := range s.stores {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*Store, 0, len(ids))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range ids {
		if st, ok := s.stores[id]; ok {
			out = append(out, st)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

// SweepExpired prunes expired multiplier sources in every session.
// It returns the total number of sources removed.
func (s *Sessions) SweepExpired() int {
	var removed int
	for _, st := range s.All() {
		removed += st.PruneExpired()
	}
	return removed
}

// Flush saves every dirty session. Errors are collected; other sessions
// are still attempted. With an idle TTL, sessions that are clean after the
// pass and idle past it are evicted.
func (s *Sessions) Flush(ctx context.Context, saver SnapshotSaver) (int, error) {
	saved, err := s.flush(ctx, saver)
	if n := s.evictIdle(); n > 0 {
		s.logger.Debug("idle sessions evicted", "count", n)
	}
	return saved, err
}

func (s *Sessions) flush(ctx context.Context, saver SnapshotSaver) (int, error) {
	var (
		saved int
		errs  []error
	)
	for _, st := range s.All() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !st.Dirty() {
			continue
		}
		doc := st.Document()
		if err := saver.Save(ctx, doc); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", doc.UserID, err))
			continue
		}
		st.MarkSaved(doc.Revision)
		saved++
	}
	return saved, errors.Join(errs...)
}

// evictIdle drops clean sessions whose last Get is older than the idle TTL.
// Dirty sessions stay until a flush saves them.
func (s *Sessions) evictIdle() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.engine.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted int
	for id, st := range s.stores {
		if s.lastSeen[id].After(cutoff) || st.Dirty() {
			continue
		}
		delete(s.stores, id)
		delete(s.lastSeen, id)
		evicted++
	}
	return evicted
}
