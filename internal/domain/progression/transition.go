package progression

import (
	"fmt"

	"github.com/gamilit/ranks-engine/internal/domain/rank"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// nextRank возвращает следующий ранг по таблице.
func (e *Engine) nextRank(s State) (rank.Definition, bool) {
	return e.cfg.Ranks.Next(s.Progress.CurrentRank)
}

// CheckRankUp проверяет, существует ли следующий ранг и достигнут ли его порог ML Coins.
func (e *Engine) CheckRankUp(s State) bool {
	next, ok := e.nextRank(s)
	if !ok {
		return false
	}
	return s.Progress.MLCoinsEarned >= next.MLCoinsRequired
}

// RankUp повышает пользователя на одну ступень. Если CheckRankUp ложен,
// возвращает то же состояние без событий.
func (e *Engine) RankUp(s State) (State, []shared.Event) {
	target, ok := e.nextRank(s)
	if !ok || s.Progress.MLCoinsEarned < target.MLCoinsRequired {
		return s, nil
	}

	now := e.Now()
	next := s.Clone()
	before := next.snapshot()
	fromRank := next.Progress.CurrentRank

	next.Progress.CurrentRank = target.ID
	next.Progress.NextRank = nil
	if after, ok := e.cfg.Ranks.Next(target.ID); ok {
		next.Progress.NextRank = after.ID.Ptr()
	}
	next.Progress.LastRankUp = &now

	var events []shared.Event
	if e.cfg.AwardPromotionBonus && target.PromotionBonus > 0 {
		next.Progress.MLCoinsEarned += target.PromotionBonus
		events = append(events, shared.NewCoinsEarnedEvent(s.UserID, target.PromotionBonus, next.Progress.MLCoinsEarned, "promotion_bonus", now))
	}

	var multEvents []shared.Event
	next, multEvents = e.UpdateMultipliers(next)

	next.UI.IsRankingUp = true
	next.UI.ShowRankUpModal = true

	next.History = append(next.History, HistoryEntry{
		ID:          e.cfg.NewID(),
		Type:        HistoryRankUp,
		Timestamp:   now,
		Title:       fmt.Sprintf("Promoted to %s", target.Name),
		Description: fmt.Sprintf("Advanced from %s to %s", fromRank, target.ID),
		Rank:        target.ID,
		Level:       next.Progress.CurrentLevel,
		XP:          next.Progress.TotalXP,
		Multiplier:  next.Progress.Multiplier,
		Before:      &before,
	})

	events = append(events, shared.NewRankUpEvent(
		s.UserID, string(fromRank), string(target.ID),
		append([]string(nil), target.Benefits...), next.Progress.Multiplier, now,
	))
	return next, append(events, multEvents...)
}

// RankUpAll повторяет RankUp, пока порог следующего ранга достигнут.
func (e *Engine) RankUpAll(s State) (State, []shared.Event) {
	var all []shared.Event
	for i := 0; i < e.cfg.Ranks.Len() && e.CheckRankUp(s); i++ {
		var events []shared.Event
		s, events = e.RankUp(s)
		all = append(all, events...)
	}
	return s, all
}

// ══════════════════════════════════════════════════════════════════════════════
// UI SIGNALS
// ══════════════════════════════════════════════════════════════════════════════

// CloseRankUpModal сбрасывает только флаги анимации повышения.
func (e *Engine) CloseRankUpModal(s State) State {
	next := s.Clone()
	next.UI.IsRankingUp = false
	next.UI.ShowRankUpModal = false
	return next
}

// OpenPrestigeModal выставляет флаг окна престижа.
func (e *Engine) OpenPrestigeModal(s State) State {
	next := s.Clone()
	next.UI.ShowPrestigeModal = true
	return next
}

// ClosePrestigeModal сбрасывает флаг окна престижа.
func (e *Engine) ClosePrestigeModal(s State) State {
	next := s.Clone()
	next.UI.ShowPrestigeModal = false
	return next
}
