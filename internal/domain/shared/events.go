// Package shared содержит типы, ошибки и события, общие для всех
// доменных пакетов движка рангов.
package shared

import (
	"encoding/json"
	"time"
)

// EventType - имя доменного события, оно же ключ маршрутизации в шине.
type EventType string

const (
	EventXPGained       EventType = "progress.xp_gained"
	EventLevelUp        EventType = "progress.level_up"
	EventCoinsEarned    EventType = "progress.coins_earned"
	EventStreakUpdated  EventType = "progress.streak_updated"
	EventProgressReset  EventType = "progress.reset"
	EventProgressSynced EventType = "progress.synced"

	EventRankUp   EventType = "rank.promoted"
	EventPrestige EventType = "rank.prestiged"

	EventMultipliersUpdated EventType = "multiplier.updated"
)

// Event - то, что движок сообщает подписчикам после перехода.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID - пользователь, чьё состояние изменилось.
	AggregateID() string
}

// Meta встраивается в каждое событие. Поля скрыты от JSON:
// в полезную нагрузку попадают только данные самого события.
type Meta struct {
	Type EventType `json:"-"`
	At   time.Time `json:"-"`
	User string    `json:"-"`
}

func (m Meta) EventType() EventType  { return m.Type }
func (m Meta) OccurredAt() time.Time { return m.At }
func (m Meta) AggregateID() string   { return m.User }

func meta(t EventType, userID string, at time.Time) Meta {
	return Meta{Type: t, At: at, User: userID}
}

// ═══════════════════════════════════════════════════════════════════════════
// Прогресс
// ═══════════════════════════════════════════════════════════════════════════

// XPGainedEvent публикуется на каждое начисление, включая нулевое и отрицательное.
type XPGainedEvent struct {
	Meta
	UserID   string `json:"user_id"`
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
	Source   string `json:"source"`
}

func NewXPGainedEvent(userID string, amount, total int, source string, at time.Time) XPGainedEvent {
	return XPGainedEvent{meta(EventXPGained, userID, at), userID, amount, total, source}
}

// LevelUpEvent публикуется по одному на каждый пройденный уровень.
type LevelUpEvent struct {
	Meta
	UserID        string `json:"user_id"`
	OldLevel      int    `json:"old_level"`
	NewLevel      int    `json:"new_level"`
	XPToNextLevel int    `json:"xp_to_next_level"`
}

func NewLevelUpEvent(userID string, from, to, xpToNext int, at time.Time) LevelUpEvent {
	return LevelUpEvent{meta(EventLevelUp, userID, at), userID, from, to, xpToNext}
}

type CoinsEarnedEvent struct {
	Meta
	UserID   string `json:"user_id"`
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
	Reason   string `json:"reason"`
}

func NewCoinsEarnedEvent(userID string, amount, total int, reason string, at time.Time) CoinsEarnedEvent {
	return CoinsEarnedEvent{meta(EventCoinsEarned, userID, at), userID, amount, total, reason}
}

type StreakUpdatedEvent struct {
	Meta
	UserID         string `json:"user_id"`
	PreviousStreak int    `json:"previous_streak"`
	CurrentStreak  int    `json:"current_streak"`
}

func NewStreakUpdatedEvent(userID string, previous, current int, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{meta(EventStreakUpdated, userID, at), userID, previous, current}
}

// ProgressResetEvent - прогресс возвращён к значениям по умолчанию.
type ProgressResetEvent struct {
	Meta
	UserID string `json:"user_id"`
}

func NewProgressResetEvent(userID string, at time.Time) ProgressResetEvent {
	return ProgressResetEvent{meta(EventProgressReset, userID, at), userID}
}

// ProgressSyncedEvent - состояние заменено ответом удалённого API.
type ProgressSyncedEvent struct {
	Meta
	UserID string `json:"user_id"`
	Rank   string `json:"rank"`
	Level  int    `json:"level"`
}

func NewProgressSyncedEvent(userID, rank string, level int, at time.Time) ProgressSyncedEvent {
	return ProgressSyncedEvent{meta(EventProgressSynced, userID, at), userID, rank, level}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ранги и множители
// ═══════════════════════════════════════════════════════════════════════════

type RankUpEvent struct {
	Meta
	UserID        string   `json:"user_id"`
	FromRank      string   `json:"from_rank"`
	ToRank        string   `json:"to_rank"`
	NewBenefits   []string `json:"new_benefits"`
	NewMultiplier float64  `json:"new_multiplier"`
}

func NewRankUpEvent(userID, from, to string, benefits []string, multiplier float64, at time.Time) RankUpEvent {
	return RankUpEvent{meta(EventRankUp, userID, at), userID, from, to, benefits, multiplier}
}

// PrestigeEvent - ранг обменян на постоянный бонус к множителю.
type PrestigeEvent struct {
	Meta
	UserID               string  `json:"user_id"`
	FromRank             string  `json:"from_rank"`
	ToRank               string  `json:"to_rank"`
	PrestigeLevel        int     `json:"prestige_level"`
	BonusMultiplier      float64 `json:"bonus_multiplier"`
	CumulativeMultiplier float64 `json:"cumulative_multiplier"`
}

func NewPrestigeEvent(userID, from, to string, level int, bonus, cumulative float64, at time.Time) PrestigeEvent {
	return PrestigeEvent{meta(EventPrestige, userID, at), userID, from, to, level, bonus, cumulative}
}

type MultipliersUpdatedEvent struct {
	Meta
	UserID        string  `json:"user_id"`
	OldTotal      float64 `json:"old_total"`
	NewTotal      float64 `json:"new_total"`
	ActiveSources int     `json:"active_sources"`
}

func NewMultipliersUpdatedEvent(userID string, oldTotal, newTotal float64, sources int, at time.Time) MultipliersUpdatedEvent {
	return MultipliersUpdatedEvent{meta(EventMultipliersUpdated, userID, at), userID, oldTotal, newTotal, sources}
}

// ═══════════════════════════════════════════════════════════════════════════
// Транспорт
// ═══════════════════════════════════════════════════════════════════════════

// EnvelopeVersion - версия формата конверта.
const EnvelopeVersion = 1

// EventEnvelope - событие в виде, пригодном для журнала и межпроцессной шины.
type EventEnvelope struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Version     int             `json:"version"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEventEnvelope сериализует событие целиком: метаданные уходят в
// поля конверта, остальное в Payload.
func NewEventEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Version:     EnvelopeVersion,
		Payload:     payload,
	}, nil
}

// EventHandler обрабатывает одно событие.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	// SubscribeAll подписывает обработчик на события любого типа.
	SubscribeAll(handler EventHandler) error
}

// EventBus объединяет публикацию и подписку.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
