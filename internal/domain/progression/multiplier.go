package progression

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MULTIPLIER AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// Вклады складываются аддитивно: total = max(1.0, 1.0 + Σ(value − 1)).

// UpdateMultipliers пересчитывает MultiplierBreakdown и зеркалирует итог
// в UserProgress.Multiplier. Другие поля не меняются.
func (e *Engine) UpdateMultipliers(s State) (State, []shared.Event) {
	now := e.Now()
	next := s.Clone()
	oldTotal := next.Multipliers.Total

	next.Multipliers = e.breakdown(next, now)
	next.Progress.Multiplier = next.Multipliers.Total

	if next.Multipliers.Total == oldTotal {
		return next, nil
	}
	return next, []shared.Event{
		shared.NewMultipliersUpdatedEvent(s.UserID, oldTotal, next.Multipliers.Total, len(next.Multipliers.Sources), now),
	}
}

// breakdown строит разложение для состояния на момент now.
func (e *Engine) breakdown(s State, now time.Time) MultiplierBreakdown {
	rankSource := MultiplierSource{
		Type:        MultiplierRank,
		Name:        string(s.Progress.CurrentRank),
		Value:       1.0,
		IsPermanent: true,
	}
	if def, ok := e.cfg.Ranks.Get(s.Progress.CurrentRank); ok {
		rankSource.Name = def.Label()
		rankSource.Value = def.Multiplier
		rankSource.Description = fmt.Sprintf("Rank %s", def.Name)
	}

	sources := []MultiplierSource{rankSource}

	if s.Prestige.Level > 0 {
		sources = append(sources, MultiplierSource{
			Type:        MultiplierPrestige,
			Name:        fmt.Sprintf("Prestige %d", s.Prestige.Level),
			Value:       s.Prestige.CumulativeMultiplier,
			IsPermanent: true,
			Description: "Permanent prestige bonus",
		})
	}

	if s.Progress.ActivityStreak >= StreakBonusThreshold {
		bonus := math.Min(StreakBonusCap, float64(s.Progress.ActivityStreak)*StreakBonusPerDay)
		sources = append(sources, MultiplierSource{
			Type:        MultiplierStreak,
			Name:        fmt.Sprintf("%d-day streak", s.Progress.ActivityStreak),
			Value:       shared.RoundTo(1+bonus, multiplierPrecision),
			IsPermanent: false,
			Description: "Consecutive activity days",
		})
	}

	for _, src := range s.Registered {
		if src.Type.IsComputed() || src.IsExpired(now) {
			continue
		}
		sources = append(sources, src.clone())
	}

	total := 1.0
	for _, src := range sources {
		total += src.Value - 1.0
	}
	total = math.Max(1.0, shared.RoundTo(total, multiplierPrecision))

	var expiring []MultiplierSource
	for _, src := range sources {
		if src.ExpiresWithin(now, e.cfg.ExpiringSoonWindow) {
			expiring = append(expiring, src.clone())
		}
	}

	return MultiplierBreakdown{
		Base:            1.0,
		Rank:            rankSource,
		Sources:         sources,
		Total:           total,
		HasExpiringSoon: len(expiring) > 0,
		ExpiringSoon:    expiring,
	}
}

// AddMultiplierSource регистрирует внешний источник, заменяя существующий
// с той же парой (type, name), и пересчитывает множители.
func (e *Engine) AddMultiplierSource(s State, src MultiplierSource) (State, []shared.Event, error) {
	if !src.Type.IsValid() {
		return s, nil, shared.WrapError("progression", "AddMultiplierSource", shared.ErrInvalidInput, "unknown multiplier type "+string(src.Type), shared.ErrInvalidMultiplier)
	}
	if src.Type.IsComputed() {
		return s, nil, shared.ErrReservedMultiplier
	}
	if src.Value <= 0 || math.IsNaN(src.Value) || math.IsInf(src.Value, 0) {
		return s, nil, shared.WrapError("progression", "AddMultiplierSource", shared.ErrValueOutOfRange, "multiplier value must be positive", shared.ErrInvalidMultiplier)
	}
	src.Name = strings.TrimSpace(src.Name)
	if src.Name == "" {
		src.Name = string(src.Type)
	}
	if src.IsPermanent {
		src.ExpiresAt = nil
	}

	next := s.Clone()
	kept := next.Registered[:0]
	for _, existing := range next.Registered {
		if existing.Type == src.Type && existing.Name == src.Name {
			continue
		}
		kept = append(kept, existing)
	}
	next.Registered = append(kept, src.clone())

	next, events := e.UpdateMultipliers(next)
	return next, events, nil
}

// RemoveMultiplierSource удаляет все внешние источники указанного типа.
func (e *Engine) RemoveMultiplierSource(s State, t MultiplierType) (State, []shared.Event) {
	next := s.Clone()
	kept := make([]MultiplierSource, 0, len(next.Registered))
	for _, src := range next.Registered {
		if src.Type != t {
			kept = append(kept, src)
		}
	}
	next.Registered = kept
	return e.UpdateMultipliers(next)
}

// PruneExpired удаляет истёкшие внешние источники и пересчитывает множители.
// removed - количество удалённых источников.
func (e *Engine) PruneExpired(s State) (State, []shared.Event, int) {
	now := e.Now()
	next := s.Clone()
	kept := make([]MultiplierSource, 0, len(next.Registered))
	for _, src := range next.Registered {
		if !src.IsExpired(now) {
			kept = append(kept, src)
		}
	}
	removed := len(next.Registered) - len(kept)
	next.Registered = kept

	next, events := e.UpdateMultipliers(next)
	return next, events, removed
}

// ActiveMultipliers возвращает неистёкшие источники из разложения.
func (e *Engine) ActiveMultipliers(s State) []MultiplierSource {
	now := e.Now()
	out := make([]MultiplierSource, 0, len(s.Multipliers.Sources))
	for _, src := range s.Multipliers.Sources {
		if !src.IsExpired(now) {
			out = append(out, src.clone())
		}
	}
	return out
}
