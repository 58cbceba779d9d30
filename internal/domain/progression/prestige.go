package progression

import (
	"fmt"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRESTIGE
// ══════════════════════════════════════════════════════════════════════════════

// prestigeTiers - бонусы престижа по уровням 1..10.
// После десятого уровня действует последняя ступень.
var prestigeTiers = []PrestigeBonus{
	{Level: 1, BonusMultiplier: 0.10, UnlockedFeatures: []string{"Prestige Badge Bronze", "Perfil dorado"}, Badge: "prestige-1"},
	{Level: 2, BonusMultiplier: 0.15, UnlockedFeatures: []string{"Prestige Badge Silver", "Animaciones especiales"}, Badge: "prestige-2"},
	{Level: 3, BonusMultiplier: 0.20, UnlockedFeatures: []string{"Prestige Badge Gold", "Título \"Veteran\""}, Badge: "prestige-3"},
	{Level: 4, BonusMultiplier: 0.25, UnlockedFeatures: []string{"Prestige Badge Platinum", "Título \"Elite\""}, Badge: "prestige-4"},
	{Level: 5, BonusMultiplier: 0.30, UnlockedFeatures: []string{"Prestige Badge Diamond", "Título \"Master\""}, Badge: "prestige-5"},
	{Level: 6, BonusMultiplier: 0.35, UnlockedFeatures: []string{"Prestige Badge Ruby", "Título \"Grandmaster\""}, Badge: "prestige-6"},
	{Level: 7, BonusMultiplier: 0.40, UnlockedFeatures: []string{"Prestige Badge Emerald", "Título \"Legend\""}, Badge: "prestige-7"},
	{Level: 8, BonusMultiplier: 0.45, UnlockedFeatures: []string{"Prestige Badge Sapphire", "Título \"Immortal\""}, Badge: "prestige-8"},
	{Level: 9, BonusMultiplier: 0.50, UnlockedFeatures: []string{"Prestige Badge Obsidian", "Título \"Transcendent\""}, Badge: "prestige-9"},
	{Level: 10, BonusMultiplier: 0.60, UnlockedFeatures: []string{"Prestige Badge Rainbow", "Título \"Eternal Champion\""}, Badge: "prestige-10"},
}

// PrestigeBonusFor возвращает ступень бонуса для уровня престижа (≥ 1).
func PrestigeBonusFor(level int) PrestigeBonus {
	if level < 1 {
		level = 1
	}
	idx := min(level, len(prestigeTiers)) - 1
	tier := prestigeTiers[idx]
	tier.Level = level
	tier.UnlockedFeatures = append([]string(nil), tier.UnlockedFeatures...)
	return tier
}

// CanPrestige: текущий ранг максимальный и уровень не ниже порога.
func (e *Engine) CanPrestige(s State) bool {
	return e.cfg.Ranks.IsMax(s.Progress.CurrentRank) &&
		s.Progress.CurrentLevel >= e.cfg.PrestigeMinLevel
}

// Prestige обменивает ранг и уровень на постоянный бонус. Если CanPrestige
// ложен, возвращает то же состояние без событий.
//
// Сохраняются TotalXP и ActivityStreak. ML Coins обнуляются и переносятся
// в TotalMLCoinsAllTime.
func (e *Engine) Prestige(s State) (State, []shared.Event) {
	if !e.CanPrestige(s) {
		return s, nil
	}

	now := e.Now()
	next := s.Clone()
	before := next.snapshot()
	fromRank := next.Progress.CurrentRank
	lowest := e.cfg.Ranks.Min()

	// Счётчики престижа.
	p := &next.Prestige
	p.Level++
	p.TotalPrestiges++
	p.LastPrestigeDate = &now
	bonus := PrestigeBonusFor(p.Level)
	p.CumulativeMultiplier = shared.RoundTo(p.CumulativeMultiplier+bonus.BonusMultiplier, multiplierPrecision)
	p.ActiveBonuses = append(p.ActiveBonuses, bonus)
	p.TotalXPAllTime = next.Progress.TotalXP
	p.TotalMLCoinsAllTime += next.Progress.MLCoinsEarned

	// Сброс прогресса.
	next.Progress.CurrentRank = lowest.ID
	next.Progress.CurrentLevel = 1
	next.Progress.CurrentXP = 0
	next.Progress.XPToNextLevel = e.cfg.Curve(1)
	next.Progress.MLCoinsEarned = 0
	next.Progress.PrestigeLevel = p.Level
	next.Progress.NextRank = nil
	if after, ok := e.cfg.Ranks.Next(lowest.ID); ok {
		next.Progress.NextRank = after.ID.Ptr()
	}

	var multEvents []shared.Event
	next, multEvents = e.UpdateMultipliers(next)

	next.UI.ShowPrestigeModal = false

	next.History = append(next.History, HistoryEntry{
		ID:          e.cfg.NewID(),
		Type:        HistoryPrestige,
		Timestamp:   now,
		Title:       fmt.Sprintf("Prestige %d", next.Prestige.Level),
		Description: fmt.Sprintf("Reset from %s for a permanent +%.2f bonus", fromRank, bonus.BonusMultiplier),
		Rank:        next.Progress.CurrentRank,
		Level:       next.Progress.CurrentLevel,
		XP:          next.Progress.TotalXP,
		Multiplier:  next.Progress.Multiplier,
		Before:      &before,
	})

	events := []shared.Event{
		shared.NewPrestigeEvent(s.UserID, string(fromRank), string(lowest.ID),
			next.Prestige.Level, bonus.BonusMultiplier, next.Prestige.CumulativeMultiplier, now),
	}
	return next, append(events, multEvents...)
}
