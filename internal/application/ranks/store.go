package ranks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// Mutable per-user wrapper around the pure progression engine.
// Every operation runs under one mutex. Remote calls happen outside it.
// ══════════════════════════════════════════════════════════════════════════════

// Store holds the progression state of one user.
type Store struct {
	engine *progression.Engine

	mu         sync.Mutex
	state      progression.State
	loading    bool
	lastErr    string
	generation uint64
	fetching   uint64
	revision   int64
	saved      int64

	source    RankSource
	confirmer PrestigeConfirmer
	publisher shared.EventPublisher
	logger    *slog.Logger

	autoRankUpOnXP    bool
	autoRankUpOnCoins bool
}

// Option configures a Store.
type Option func(*Store)

// WithRankSource sets the remote source used by FetchUserProgress.
func WithRankSource(src RankSource) Option {
	return func(s *Store) { s.source = src }
}

// WithPrestigeConfirmer requires remote confirmation before a prestige.
func WithPrestigeConfirmer(c PrestigeConfirmer) Option {
	return func(s *Store) { s.confirmer = c }
}

// WithPublisher sets where domain events go after each operation.
func WithPublisher(p shared.EventPublisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAutoRankUp promotes automatically after XP or ML Coins are credited.
func WithAutoRankUp(onXP, onCoins bool) Option {
	return func(s *Store) {
		s.autoRankUpOnXP = onXP
		s.autoRankUpOnCoins = onCoins
	}
}

// NewStore creates a store with default progress for userID.
func NewStore(engine *progression.Engine, userID string, opts ...Option) (*Store, error) {
	uid, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	s := &Store{
		engine:            engine,
		state:             engine.NewState(uid.String()),
		logger:            slog.Default(),
		autoRankUpOnCoins: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "ranks_store", "user_id", uid.String())
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// Engine returns the engine the store applies transitions with.
func (s *Store) Engine() *progression.Engine {
	return s.engine
}

// UserID returns the owner of this store.
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.UserID
}

// State returns a deep copy of the whole aggregate.
func (s *Store) State() progression.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// UserProgress returns the current progress.
func (s *Store) UserProgress() progression.UserProgress {
	return s.State().Progress
}

// PrestigeProgress returns the prestige record.
func (s *Store) PrestigeProgress() progression.PrestigeProgress {
	return s.State().Prestige
}

// MultiplierBreakdown returns the last computed multiplier breakdown.
func (s *Store) MultiplierBreakdown() progression.MultiplierBreakdown {
	return s.State().Multipliers
}

// ProgressionHistory returns the history log in insertion order.
func (s *Store) ProgressionHistory() []progression.HistoryEntry {
	return s.State().History
}

// XPEvents returns the XP audit trail.
func (s *Store) XPEvents() []progression.XPEvent {
	return s.State().XPEvents
}

// UISignals returns the transient modal flags.
func (s *Store) UISignals() progression.UISignals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.UI
}

// IsLoading reports whether a fetch is in flight.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Error returns the last surfaced error message, or "".
func (s *Store) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Revision counts persisted mutations.
func (s *Store) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Document packs the state for persistence.
func (s *Store) Document() progression.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return progression.NewDocument(s.state, s.revision, s.engine.Now())
}

// Dirty reports whether there are mutations newer than the last MarkSaved.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision > s.saved
}

// MarkSaved records that the document at revision was persisted.
func (s *Store) MarkSaved(revision int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if revision > s.saved {
		s.saved = revision
	}
}

// CheckLevelUp reports whether pending XP crosses the threshold.
func (s *Store) CheckLevelUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CheckLevelUp(s.state)
}

// CheckRankUp reports whether the next rank is affordable.
func (s *Store) CheckRankUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CheckRankUp(s.state)
}

// CanPrestige reports prestige eligibility.
func (s *Store) CanPrestige() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CanPrestige(s.state)
}

// ActiveMultipliers returns the non-expired sources for display.
func (s *Store) ActiveMultipliers() []progression.MultiplierSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.ActiveMultipliers(s.state)
}

// RecentHistory returns up to limit entries, newest first.
func (s *Store) RecentHistory(limit int) []progression.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return progression.RecentHistory(s.state, limit)
}

// ══════════════════════════════════════════════════════════════════════════════
// MUTATIONS
// ══════════════════════════════════════════════════════════════════════════════

type transition func(progression.State) (progression.State, []shared.Event, error)

// apply runs fn under the lock, commits the result and publishes events.
// persist forces a revision bump even when fn produced no events.
func (s *Store) apply(persist bool, fn transition) ([]shared.Event, error) {
	s.mu.Lock()
	next, events, err := fn(s.state)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = next
	if persist || len(events) > 0 {
		s.revision++
	}
	s.mu.Unlock()

	s.publish(events)
	return events, nil
}

func (s *Store) publish(events []shared.Event) {
	if s.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := s.publisher.Publish(ev); err != nil {
			s.logger.Warn("failed to publish event",
				"event_type", ev.EventType(),
				"error", err,
			)
		}
	}
}

// AddXP credits XP and cascades level-ups.
func (s *Store) AddXP(amount int, source progression.XPSource, description string) error {
	_, err := s.apply(false, func(st progression.State) (progression.State, []shared.Event, error) {
		next, events, err := s.engine.AddXP(st, amount, source, description)
		if err != nil {
			return st, nil, err
		}
		if s.autoRankUpOnXP {
			var promoted []shared.Event
			next, promoted = s.engine.RankUpAll(next)
			events = append(events, promoted...)
		}
		return next, events, nil
	})
	return err
}

// AddMLCoins credits ML Coins and, by default, promotes while affordable.
func (s *Store) AddMLCoins(amount int, reason string) error {
	_, err := s.apply(false, func(st progression.State) (progression.State, []shared.Event, error) {
		next, events, err := s.engine.AddMLCoins(st, amount, reason)
		if err != nil {
			return st, nil, err
		}
		if s.autoRankUpOnCoins {
			var promoted []shared.Event
			next, promoted = s.engine.RankUpAll(next)
			events = append(events, promoted...)
		}
		return next, events, nil
	})
	return err
}

// RecordActivity counts the day of at toward the activity streak.
func (s *Store) RecordActivity(at time.Time) {
	_, _ = s.apply(false, func(st progression.State) (progression.State, []shared.Event, error) {
		next, events := s.engine.RecordActivity(st, at)
		return next, events, nil
	})
}

// RankUp promotes one step. It reports whether the rank changed.
func (s *Store) RankUp() bool {
	events, _ := s.apply(false, func(st progression.State) (progression.State, []shared.Event, error) {
		next, events := s.engine.RankUp(st)
		return next, events, nil
	})
	return len(events) > 0
}

// Prestige performs a prestige reset when eligible. With a confirmer the
// remote side is asked first and the lock is not held during that call.
func (s *Store) Prestige(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if !s.engine.CanPrestige(s.state) {
		s.mu.Unlock()
		return false, nil
	}
	nextLevel := s.state.Prestige.Level + 1
	userID := s.state.UserID
	s.mu.Unlock()

	if s.confirmer != nil {
		if err := s.confirmer.ConfirmPrestige(ctx, userID, nextLevel); err != nil {
			s.SetError(err.Error())
			s.logger.Warn("prestige not confirmed", "prestige_level", nextLevel, "error", err)
			return false, fmt.Errorf("%w: %w", shared.ErrPrestigeRejected, err)
		}
	}

	events, _ := s.apply(false, func(st progression.State) (progression.State, []shared.Event, error) {
		next, events := s.engine.Prestige(st)
		if len(events) > 0 {
			s.generation++
		}
		return next, events, nil
	})
	if len(events) > 0 {
		s.logger.Info("prestige applied", "prestige_level", nextLevel)
	}
	return len(events) > 0, nil
}

// AddMultiplierSource registers an external bonus source.
func (s *Store) AddMultiplierSource(src progression.MultiplierSource) error {
	_, err := s.apply(true, func(st progression.State) (progression.State, []shared.Event, error) {
		return s.engine.AddMultiplierSource(st, src)
	})
	return err
}

// RemoveMultiplierSource drops every registered source of type t.
func (s *Store) RemoveMultiplierSource(t progression.MultiplierType) {
	_, _ = s.apply(true, func(st progression.State) (progression.State, []shared.Event, error) {
		next, events := s.engine.RemoveMultiplierSource(st, t)
		return next, events, nil
	})
}

// UpdateMultipliers recomputes the multiplier breakdown.
func (s *Store) UpdateMultipliers() {
	_, _ = s.apply(false, func(st progression.State) (progression.State, []shared.Event, error) {
		next, events := s.engine.UpdateMultipliers(st)
		return next, events, nil
	})
}

// PruneExpired removes expired registered sources and returns how many went.
func (s *Store) PruneExpired() int {
	var removed int
	_, _ = s.apply(false, func(st progression.State) (progression.State, []shared.Event, error) {
		next, events, n := s.engine.PruneExpired(st)
		removed = n
		if n > 0 && len(events) == 0 {
			s.revision++
		}
		return next, events, nil
	})
	return removed
}

// AddHistoryEntry appends a custom entry to the history log.
func (s *Store) AddHistoryEntry(entry progression.HistoryEntry) {
	_, _ = s.apply(true, func(st progression.State) (progression.State, []shared.Event, error) {
		return s.engine.AddHistoryEntry(st, entry), nil, nil
	})
}

// CloseRankUpModal clears the rank-up animation flags.
func (s *Store) CloseRankUpModal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.engine.CloseRankUpModal(s.state)
}

// OpenPrestigeModal raises the prestige dialog flag.
func (s *Store) OpenPrestigeModal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.engine.OpenPrestigeModal(s.state)
}

// ClosePrestigeModal clears the prestige dialog flag.
func (s *Store) ClosePrestigeModal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.engine.ClosePrestigeModal(s.state)
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

// SetError sets the surfaced error message. Empty clears it.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
}

// ResetProgress returns the user to defaults. Any in-flight fetch becomes stale.
func (s *Store) ResetProgress() {
	_, _ = s.apply(true, func(st progression.State) (progression.State, []shared.Event, error) {
		s.generation++
		s.loading = false
		s.lastErr = ""
		now := s.engine.Now()
		return s.engine.NewState(st.UserID), []shared.Event{shared.NewProgressResetEvent(st.UserID, now)}, nil
	})
}

// Restore replaces the state with a persisted document.
func (s *Store) Restore(doc progression.Document) error {
	s.mu.Lock()
	if doc.UserID != "" && doc.UserID != s.state.UserID {
		s.mu.Unlock()
		return shared.WrapError("ranks", "Restore", shared.ErrInvalidInput,
			fmt.Sprintf("document belongs to %q", doc.UserID), shared.ErrInvalidUserID)
	}
	st := doc.State
	st.UserID = s.state.UserID
	next, _, err := s.engine.Normalize(st)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.generation++
	s.revision = doc.Revision
	s.saved = doc.Revision
	s.mu.Unlock()
	return nil
}
