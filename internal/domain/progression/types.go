// Package progression содержит чистое ядро прогрессии: начисление XP с
// каскадом уровней, переходы рангов по порогу ML Coins, агрегацию
// множителей, престиж и журнал истории.
//
// Каждая операция принимает State по значению и возвращает новое состояние
// вместе с доменными событиями; входное состояние никогда не изменяется.
package progression

import (
	"time"

	"github.com/gamilit/ranks-engine/internal/domain/rank"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// XPSource - откуда пришёл XP.
type XPSource string

const (
	SourceExerciseCompletion XPSource = "exercise_completion"
	SourcePerfectScore       XPSource = "perfect_score"
	SourceStreakBonus        XPSource = "streak_bonus"
	SourceAchievementUnlock  XPSource = "achievement_unlock"
	SourceSocialInteraction  XPSource = "social_interaction"
	SourceDailyChallenge     XPSource = "daily_challenge"
	SourceGuildActivity      XPSource = "guild_activity"
	SourceEventParticipation XPSource = "event_participation"
)

// IsValid проверяет, известен ли источник XP.
func (s XPSource) IsValid() bool {
	switch s {
	case SourceExerciseCompletion, SourcePerfectScore, SourceStreakBonus,
		SourceAchievementUnlock, SourceSocialInteraction, SourceDailyChallenge,
		SourceGuildActivity, SourceEventParticipation:
		return true
	}
	return false
}

// MultiplierType - категория источника множителя.
type MultiplierType string

const (
	MultiplierRank        MultiplierType = "rank"
	MultiplierPrestige    MultiplierType = "prestige"
	MultiplierStreak      MultiplierType = "streak"
	MultiplierTime        MultiplierType = "time"
	MultiplierSocial      MultiplierType = "social"
	MultiplierGuild       MultiplierType = "guild"
	MultiplierAchievement MultiplierType = "achievement"
	MultiplierEvent       MultiplierType = "event"
)

// IsValid проверяет, известен ли тип множителя.
func (t MultiplierType) IsValid() bool {
	switch t {
	case MultiplierRank, MultiplierPrestige, MultiplierStreak, MultiplierTime,
		MultiplierSocial, MultiplierGuild, MultiplierAchievement, MultiplierEvent:
		return true
	}
	return false
}

// IsComputed возвращает true для типов, которые движок выводит сам
// (rank, prestige, streak) и которые нельзя зарегистрировать извне.
func (t MultiplierType) IsComputed() bool {
	return t == MultiplierRank || t == MultiplierPrestige || t == MultiplierStreak
}

// HistoryType - тип записи в журнале прогрессии.
type HistoryType string

const (
	HistoryLevelUp   HistoryType = "level_up"
	HistoryRankUp    HistoryType = "rank_up"
	HistoryPrestige  HistoryType = "prestige"
	HistoryMilestone HistoryType = "milestone"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress - текущее положение пользователя на лестнице.
type UserProgress struct {
	// CurrentRank - текущий ранг.
	CurrentRank rank.ID `json:"currentRank"`

	// CurrentLevel - текущий уровень (≥ 1).
	CurrentLevel int `json:"currentLevel"`

	// CurrentXP - XP внутри текущего уровня, 0 ≤ CurrentXP < XPToNextLevel.
	CurrentXP int `json:"currentXP"`

	// TotalXP - XP за всё время, никогда не уменьшается.
	TotalXP int `json:"totalXP"`

	// XPToNextLevel - порог текущего уровня (производное значение).
	XPToNextLevel int `json:"xpToNextLevel"`

	// MLCoinsEarned - валюта, открывающая следующий ранг.
	MLCoinsEarned int `json:"mlCoinsEarned"`

	// PrestigeLevel - зеркало PrestigeProgress.Level.
	PrestigeLevel int `json:"prestigeLevel"`

	// Multiplier - зеркало MultiplierBreakdown.Total.
	Multiplier float64 `json:"multiplier"`

	// ActivityStreak - серия активных дней подряд.
	ActivityStreak int `json:"activityStreak"`

	// LastActivityDate - время последней активности.
	LastActivityDate time.Time `json:"lastActivityDate"`

	// LastRankUp - время последнего повышения.
	LastRankUp *time.Time `json:"lastRankUp,omitempty"`

	// NextRank - следующий ранг; nil на максимальном.
	NextRank *rank.ID `json:"nextRank"`
}

// PrestigeBonus - ступень бонуса за престиж.
type PrestigeBonus struct {
	Level            int      `json:"level"`
	BonusMultiplier  float64  `json:"bonusMultiplier"`
	UnlockedFeatures []string `json:"unlockedFeatures,omitempty"`
	Badge            string   `json:"badge,omitempty"`
}

// PrestigeProgress - накопленные результаты престижей.
type PrestigeProgress struct {
	// Level - уровень престижа, не уменьшается.
	Level int `json:"prestigeLevel"`

	// TotalPrestiges - количество выполненных престижей.
	TotalPrestiges int `json:"totalPrestiges"`

	// TotalXPAllTime - TotalXP на момент последнего престижа.
	TotalXPAllTime int `json:"totalXPAllTime"`

	// TotalMLCoinsAllTime - ML Coins, накопленные во всех циклах.
	TotalMLCoinsAllTime int `json:"totalMLCoinsAllTime"`

	// CumulativeMultiplier - постоянный множитель (старт 1.0, не уменьшается).
	CumulativeMultiplier float64 `json:"prestigeMultiplier"`

	// LastPrestigeDate - время последнего престижа.
	LastPrestigeDate *time.Time `json:"lastPrestigeDate,omitempty"`

	// ActiveBonuses - полученные ступени бонусов.
	ActiveBonuses []PrestigeBonus `json:"prestigeBonuses"`
}

// MultiplierSource - один вклад в итоговый множитель.
type MultiplierSource struct {
	Type        MultiplierType `json:"type"`
	Name        string         `json:"name"`
	Value       float64        `json:"value"`
	IsPermanent bool           `json:"isPermanent"`
	Description string         `json:"description,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
}

// IsExpired проверяет, истёк ли источник к моменту now.
func (m MultiplierSource) IsExpired(now time.Time) bool {
	return !m.IsPermanent && m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// ExpiresWithin проверяет, истекает ли временный источник в окне (now, now+window].
func (m MultiplierSource) ExpiresWithin(now time.Time, window time.Duration) bool {
	if m.IsPermanent || m.ExpiresAt == nil || m.IsExpired(now) {
		return false
	}
	return !m.ExpiresAt.After(now.Add(window))
}

// MultiplierBreakdown - разложение итогового множителя по источникам.
type MultiplierBreakdown struct {
	// Base - всегда 1.0.
	Base float64 `json:"base"`

	// Rank - вклад текущего ранга.
	Rank MultiplierSource `json:"rank"`

	// Sources - все активные источники по порядку: rank, prestige, streak, внешние.
	Sources []MultiplierSource `json:"sources"`

	// Total - итог, не меньше 1.0.
	Total float64 `json:"total"`

	// HasExpiringSoon - есть ли временные источники, истекающие в ближайшие 24 часа.
	HasExpiringSoon bool `json:"hasExpiringSoon"`

	// ExpiringSoon - эти источники.
	ExpiringSoon []MultiplierSource `json:"expiringSoon,omitempty"`
}

// XPEvent - запись аудита о начислении XP. Только для чтения:
// CurrentXP никогда не пересчитывается по журналу.
type XPEvent struct {
	ID          string    `json:"id"`
	Amount      int       `json:"amount"`
	Source      XPSource  `json:"source"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Snapshot - срез прогресса в момент записи истории.
type Snapshot struct {
	Rank          rank.ID `json:"rank"`
	Level         int     `json:"level"`
	CurrentXP     int     `json:"currentXP"`
	TotalXP       int     `json:"totalXP"`
	MLCoins       int     `json:"mlCoins"`
	Multiplier    float64 `json:"multiplier"`
	PrestigeLevel int     `json:"prestigeLevel"`
}

// HistoryEntry - неизменяемая запись журнала прогрессии.
type HistoryEntry struct {
	ID          string      `json:"id"`
	Type        HistoryType `json:"type"`
	Timestamp   time.Time   `json:"timestamp"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`

	// Снимок после события.
	Rank       rank.ID `json:"rank"`
	Level      int     `json:"levelSnapshot"`
	XP         int     `json:"xpSnapshot"`
	Multiplier float64 `json:"multiplierSnapshot"`

	// Before - снимок до события (rank_up и prestige).
	Before *Snapshot `json:"before,omitempty"`
}

// UISignals - флаги для клиентского интерфейса, не сохраняются.
type UISignals struct {
	IsRankingUp       bool `json:"isRankingUp"`
	ShowRankUpModal   bool `json:"showRankUpModal"`
	ShowPrestigeModal bool `json:"showPrestigeModal"`
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE (агрегат)
// ══════════════════════════════════════════════════════════════════════════════

// State - полное состояние прогрессии одного пользователя.
type State struct {
	// UserID - владелец агрегата.
	UserID string `json:"userId"`

	Progress    UserProgress        `json:"userProgress"`
	Prestige    PrestigeProgress    `json:"prestigeProgress"`
	Multipliers MultiplierBreakdown `json:"multiplierBreakdown"`

	// Registered - внешние источники множителей (без rank/prestige/streak).
	Registered []MultiplierSource `json:"registeredSources"`

	// History - журнал в порядке добавления.
	History []HistoryEntry `json:"progressionHistory"`

	// XPEvents - журнал начислений XP в порядке добавления.
	XPEvents []XPEvent `json:"xpEvents"`

	// StreakDay - день последней засчитанной активности для серии.
	StreakDay *time.Time `json:"streakDay,omitempty"`

	// BestStreak - лучшая серия.
	BestStreak int `json:"bestStreak"`

	UI UISignals `json:"-"`
}

// Clone возвращает глубокую копию состояния.
func (s State) Clone() State {
	out := s
	out.Progress.LastRankUp = cloneTime(s.Progress.LastRankUp)
	if s.Progress.NextRank != nil {
		out.Progress.NextRank = s.Progress.NextRank.Ptr()
	}
	out.Prestige.LastPrestigeDate = cloneTime(s.Prestige.LastPrestigeDate)
	out.Prestige.ActiveBonuses = cloneBonuses(s.Prestige.ActiveBonuses)
	out.Multipliers = s.Multipliers.Clone()
	out.Registered = cloneSources(s.Registered)
	out.History = cloneHistory(s.History)
	if s.XPEvents != nil {
		out.XPEvents = append([]XPEvent(nil), s.XPEvents...)
	}
	out.StreakDay = cloneTime(s.StreakDay)
	return out
}

// Clone возвращает глубокую копию разложения.
func (b MultiplierBreakdown) Clone() MultiplierBreakdown {
	out := b
	out.Rank = b.Rank.clone()
	out.Sources = cloneSources(b.Sources)
	out.ExpiringSoon = cloneSources(b.ExpiringSoon)
	return out
}

// snapshot делает срез текущего прогресса.
func (s State) snapshot() Snapshot {
	return Snapshot{
		Rank:          s.Progress.CurrentRank,
		Level:         s.Progress.CurrentLevel,
		CurrentXP:     s.Progress.CurrentXP,
		TotalXP:       s.Progress.TotalXP,
		MLCoins:       s.Progress.MLCoinsEarned,
		Multiplier:    s.Progress.Multiplier,
		PrestigeLevel: s.Prestige.Level,
	}
}

func (m MultiplierSource) clone() MultiplierSource {
	m.ExpiresAt = cloneTime(m.ExpiresAt)
	return m
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneSources(in []MultiplierSource) []MultiplierSource {
	if in == nil {
		return nil
	}
	out := make([]MultiplierSource, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

func cloneBonuses(in []PrestigeBonus) []PrestigeBonus {
	if in == nil {
		return nil
	}
	out := make([]PrestigeBonus, len(in))
	for i, b := range in {
		if b.UnlockedFeatures != nil {
			b.UnlockedFeatures = append([]string(nil), b.UnlockedFeatures...)
		}
		out[i] = b
	}
	return out
}

func cloneHistory(in []HistoryEntry) []HistoryEntry {
	if in == nil {
		return nil
	}
	out := make([]HistoryEntry, len(in))
	for i, h := range in {
		if h.Before != nil {
			b := *h.Before
			h.Before = &b
		}
		out[i] = h
	}
	return out
}
