package progression

import (
	"fmt"
	"math"
	"time"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP LEDGER & LEVELING
// ══════════════════════════════════════════════════════════════════════════════

// AddXP начисляет XP и выполняет каскад повышений уровня.
//
// Знак amount не проверяется: запись в XPEvents сохраняет его как есть.
// Отрицательное начисление уменьшает CurrentXP не ниже нуля (без понижения
// уровня) и не трогает TotalXP. При неположительном пороге кривой или
// превышении предела каскада возвращается ошибка и исходное состояние.
func (e *Engine) AddXP(s State, amount int, source XPSource, description string) (State, []shared.Event, error) {
	now := e.Now()
	next := s.Clone()

	next.XPEvents = append(next.XPEvents, XPEvent{
		ID:          e.cfg.NewID(),
		Amount:      amount,
		Source:      source,
		Description: description,
		Timestamp:   now,
	})

	if amount >= 0 {
		next.Progress.CurrentXP += amount
		next.Progress.TotalXP += amount
	} else {
		next.Progress.CurrentXP = max(0, next.Progress.CurrentXP+amount)
	}
	next.Progress.LastActivityDate = now

	events := []shared.Event{
		shared.NewXPGainedEvent(s.UserID, amount, next.Progress.TotalXP, string(source), now),
	}

	levelEvents, err := e.cascade(&next, now)
	if err != nil {
		return s, nil, err
	}
	events = append(events, levelEvents...)

	var multEvents []shared.Event
	next, multEvents = e.UpdateMultipliers(next)
	events = append(events, multEvents...)

	return next, events, nil
}

// cascade снимает пороги, пока CurrentXP не станет меньше XPToNextLevel.
// Число шагов ограничено, порог обязан быть положительным.
func (e *Engine) cascade(s *State, now time.Time) ([]shared.Event, error) {
	var events []shared.Event
	for steps := 0; s.Progress.CurrentXP >= s.Progress.XPToNextLevel; steps++ {
		if s.Progress.XPToNextLevel <= 0 {
			return nil, shared.ErrInvalidLevelCurve
		}
		if steps >= e.cfg.MaxCascadeSteps {
			return nil, shared.ErrCascadeLimit
		}

		oldLevel := s.Progress.CurrentLevel
		s.Progress.CurrentXP -= s.Progress.XPToNextLevel
		s.Progress.CurrentLevel++
		s.Progress.XPToNextLevel = e.cfg.Curve(s.Progress.CurrentLevel)

		s.History = append(s.History, HistoryEntry{
			ID:          e.cfg.NewID(),
			Type:        HistoryLevelUp,
			Timestamp:   now,
			Title:       fmt.Sprintf("Level %d reached", s.Progress.CurrentLevel),
			Description: fmt.Sprintf("Advanced from level %d to level %d", oldLevel, s.Progress.CurrentLevel),
			Rank:        s.Progress.CurrentRank,
			Level:       s.Progress.CurrentLevel,
			XP:          s.Progress.TotalXP,
			Multiplier:  s.Progress.Multiplier,
		})
		events = append(events, shared.NewLevelUpEvent(s.UserID, oldLevel, s.Progress.CurrentLevel, s.Progress.XPToNextLevel, now))
	}
	// Порог для следующего уровня тоже должен быть валиден.
	if s.Progress.XPToNextLevel <= 0 {
		return nil, shared.ErrInvalidLevelCurve
	}
	return events, nil
}

// CheckLevelUp - чистый предикат CurrentXP ≥ XPToNextLevel.
// После AddXP всегда false, так как каскад выполняется сразу.
func (e *Engine) CheckLevelUp(s State) bool {
	return s.Progress.CurrentXP >= s.Progress.XPToNextLevel
}

// ScaledXP применяет текущий итоговый множитель к базовому XP.
func (e *Engine) ScaledXP(s State, base int) int {
	total := s.Multipliers.Total
	if total < 1.0 {
		total = 1.0
	}
	return int(math.Round(float64(base) * total))
}

// ══════════════════════════════════════════════════════════════════════════════
// ML COINS & STREAK
// ══════════════════════════════════════════════════════════════════════════════

// AddMLCoins начисляет ML Coins. Отрицательные суммы отклоняются.
func (e *Engine) AddMLCoins(s State, amount int, reason string) (State, []shared.Event, error) {
	if amount < 0 {
		return s, nil, shared.ErrNegativeCoins
	}
	now := e.Now()
	next := s.Clone()
	next.Progress.MLCoinsEarned += amount
	return next, []shared.Event{
		shared.NewCoinsEarnedEvent(s.UserID, amount, next.Progress.MLCoinsEarned, reason, now),
	}, nil
}

// RecordActivity засчитывает активный день в серию: тот же день ничего не
// меняет, следующий день продлевает серию, пропуск сбрасывает её до 1.
func (e *Engine) RecordActivity(s State, at time.Time) (State, []shared.Event) {
	day := timeutil.StartOfDay(at)
	next := s.Clone()
	previous := next.Progress.ActivityStreak

	// Серия, пришедшая с сервера, продолжается от даты последней активности.
	last := next.StreakDay
	if last == nil && previous > 0 && !next.Progress.LastActivityDate.IsZero() {
		d := timeutil.StartOfDay(next.Progress.LastActivityDate)
		last = &d
	}

	switch {
	case last == nil:
		next.Progress.ActivityStreak = 1
	case timeutil.IsSameDay(*last, day):
		return s, nil
	case day.Before(*last):
		// Активность задним числом не меняет серию.
		return s, nil
	case timeutil.IsConsecutiveDay(*last, day):
		next.Progress.ActivityStreak++
	default:
		next.Progress.ActivityStreak = 1
	}

	next.StreakDay = &day
	if next.Progress.ActivityStreak > next.BestStreak {
		next.BestStreak = next.Progress.ActivityStreak
	}
	if at.After(next.Progress.LastActivityDate) {
		next.Progress.LastActivityDate = at
	}

	events := []shared.Event{
		shared.NewStreakUpdatedEvent(s.UserID, previous, next.Progress.ActivityStreak, e.Now()),
	}
	var multEvents []shared.Event
	next, multEvents = e.UpdateMultipliers(next)
	return next, append(events, multEvents...)
}
