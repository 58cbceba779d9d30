package ranks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/rank"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE HYDRATION
// ══════════════════════════════════════════════════════════════════════════════

// ErrNoRankSource is returned by FetchUserProgress when no source is configured.
var ErrNoRankSource = errors.New("ranks: no rank source configured")

// FetchUserProgress replaces the user progress with the remote copy.
//
// On failure the raw error message is stored in Error, loading is cleared and
// progress stays as it was. A result that arrives after a newer fetch, a
// reset, a prestige or a restore is dropped with shared.ErrStaleFetch; the
// loading flag is then left to the newest fetch, if any.
func (s *Store) FetchUserProgress(ctx context.Context) error {
	if s.source == nil {
		return ErrNoRankSource
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.fetching = gen
	s.loading = true
	userID := s.state.UserID
	s.mu.Unlock()

	remote, err := s.source.CurrentRank(ctx, userID)

	s.mu.Lock()
	if gen != s.generation {
		if gen == s.fetching {
			s.loading = false
		}
		s.mu.Unlock()
		s.logger.Debug("dropping stale fetch result")
		return shared.ErrStaleFetch
	}
	if err != nil {
		s.loading = false
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.logger.Warn("fetch user progress failed", "error", err)
		return fmt.Errorf("fetch user progress: %w", err)
	}

	progress, err := hydrateProgress(s.engine, remote)
	if err != nil {
		s.loading = false
		s.lastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("fetch user progress: %w", err)
	}

	// The prestige record is local; the remote copy only replaces progress.
	next := s.state.Clone()
	next.Progress = progress
	next, events, err := s.engine.Normalize(next)
	if err != nil {
		s.loading = false
		s.lastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("fetch user progress: %w", err)
	}
	events = append([]shared.Event{
		shared.NewProgressSyncedEvent(userID, string(next.Progress.CurrentRank), next.Progress.CurrentLevel, s.engine.Now()),
	}, events...)

	s.state = next
	s.loading = false
	s.lastErr = ""
	s.revision++
	s.mu.Unlock()

	s.publish(events)
	return nil
}

// hydrateProgress converts the remote payload. Derived fields the remote side
// left empty are recomputed from the local table and level curve.
func hydrateProgress(engine *progression.Engine, r RemoteProgress) (progression.UserProgress, error) {
	table := engine.Ranks()
	id := rank.ID(r.CurrentRank)
	if _, ok := table.Get(id); !ok {
		return progression.UserProgress{}, shared.WrapError("ranks", "Hydrate", shared.ErrNotFound,
			fmt.Sprintf("unknown rank %q", r.CurrentRank), shared.ErrRankNotFound)
	}

	lastActivity, err := timeutil.ParseISOPtr(r.LastActivityDate)
	if err != nil {
		return progression.UserProgress{}, shared.WrapError("ranks", "Hydrate", shared.ErrInvalidFormat, "lastActivityDate", err)
	}
	var lastRankUp *time.Time
	if r.LastRankUp != nil {
		if lastRankUp, err = timeutil.ParseISOPtr(*r.LastRankUp); err != nil {
			return progression.UserProgress{}, shared.WrapError("ranks", "Hydrate", shared.ErrInvalidFormat, "lastRankUp", err)
		}
	}

	p := progression.UserProgress{
		CurrentRank:    id,
		CurrentLevel:   max(r.CurrentLevel, 1),
		CurrentXP:      max(r.CurrentXP, 0),
		TotalXP:        max(r.TotalXP, 0),
		XPToNextLevel:  r.XPToNextLevel,
		MLCoinsEarned:  max(r.MLCoinsEarned, 0),
		PrestigeLevel:  max(r.PrestigeLevel, 0),
		Multiplier:     r.Multiplier,
		ActivityStreak: max(r.ActivityStreak, 0),
		LastRankUp:     lastRankUp,
	}
	if lastActivity != nil {
		p.LastActivityDate = *lastActivity
	}
	if p.XPToNextLevel <= 0 {
		p.XPToNextLevel = engine.XPForLevel(p.CurrentLevel)
	}

	if r.NextRank != nil && *r.NextRank != "" {
		next := rank.ID(*r.NextRank)
		if _, ok := table.Get(next); !ok {
			return progression.UserProgress{}, shared.WrapError("ranks", "Hydrate", shared.ErrNotFound,
				fmt.Sprintf("unknown next rank %q", *r.NextRank), shared.ErrRankNotFound)
		}
		p.NextRank = next.Ptr()
	} else if after, ok := table.Next(id); ok {
		p.NextRank = after.ID.Ptr()
	}
	return p, nil
}
