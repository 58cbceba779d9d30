package progression

import (
	"time"

	"github.com/google/uuid"

	"github.com/gamilit/ranks-engine/internal/domain/rank"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultXPPerLevel - шаг линейной кривой: порог уровня L равен 100·L.
	DefaultXPPerLevel = 100

	// DefaultPrestigeMinLevel - минимальный уровень для престижа.
	DefaultPrestigeMinLevel = 50

	// DefaultExpiringSoonWindow - окно "скоро истекает".
	DefaultExpiringSoonWindow = 24 * time.Hour

	// DefaultMaxCascadeSteps - предел шагов каскада за одно начисление.
	DefaultMaxCascadeSteps = 100000

	// StreakBonusThreshold - серия, с которой появляется бонус.
	StreakBonusThreshold = 7

	// StreakBonusPerDay - прибавка к множителю за каждый день серии.
	StreakBonusPerDay = 0.01

	// StreakBonusCap - максимальная прибавка за серию.
	StreakBonusCap = 0.5

	// multiplierPrecision - знаков после запятой в сохраняемых множителях.
	multiplierPrecision = 4
)

// LevelCurve возвращает порог XP для уровня. Порог обязан быть
// положительным и строго возрастать с уровнем.
type LevelCurve func(level int) int

// LinearCurve - кривая step·level.
func LinearCurve(step int) LevelCurve {
	return func(level int) int {
		return step * level
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG & OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Config - параметры движка.
type Config struct {
	Ranks              *rank.Table
	Curve              LevelCurve
	Clock              timeutil.Clock
	NewID              func() string
	PrestigeMinLevel   int
	ExpiringSoonWindow time.Duration
	MaxCascadeSteps    int

	// AwardPromotionBonus - начислять ли Definition.PromotionBonus при повышении.
	AwardPromotionBonus bool
}

// DefaultConfig возвращает конфигурацию по умолчанию с майянской таблицей.
func DefaultConfig() Config {
	return Config{
		Ranks:              rank.DefaultTable(),
		Curve:              LinearCurve(DefaultXPPerLevel),
		Clock:              timeutil.SystemClock{},
		NewID:              func() string { return uuid.NewString() },
		PrestigeMinLevel:   DefaultPrestigeMinLevel,
		ExpiringSoonWindow: DefaultExpiringSoonWindow,
		MaxCascadeSteps:    DefaultMaxCascadeSteps,
	}
}

// Option настраивает Config.
type Option func(*Config)

// WithRankTable задаёт таблицу рангов.
func WithRankTable(t *rank.Table) Option {
	return func(c *Config) {
		if t != nil {
			c.Ranks = t
		}
	}
}

// WithLevelCurve задаёт кривую уровней.
func WithLevelCurve(curve LevelCurve) Option {
	return func(c *Config) {
		if curve != nil {
			c.Curve = curve
		}
	}
}

// WithClock задаёт источник времени.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Config) {
		if clock != nil {
			c.Clock = clock
		}
	}
}

// WithIDGenerator задаёт генератор идентификаторов.
func WithIDGenerator(fn func() string) Option {
	return func(c *Config) {
		if fn != nil {
			c.NewID = fn
		}
	}
}

// WithPrestigeMinLevel задаёт минимальный уровень для престижа.
func WithPrestigeMinLevel(level int) Option {
	return func(c *Config) {
		if level > 0 {
			c.PrestigeMinLevel = level
		}
	}
}

// WithExpiringSoonWindow задаёт окно "скоро истекает".
func WithExpiringSoonWindow(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ExpiringSoonWindow = d
		}
	}
}

// WithMaxCascadeSteps задаёт предел каскада уровней.
func WithMaxCascadeSteps(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxCascadeSteps = n
		}
	}
}

// WithPromotionBonus включает начисление бонуса ML Coins при повышении.
func WithPromotionBonus(enabled bool) Option {
	return func(c *Config) {
		c.AwardPromotionBonus = enabled
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine - набор чистых операций над State. Безопасен для конкурентного
// использования: собственного изменяемого состояния у него нет.
type Engine struct {
	cfg Config
}

// NewEngine создаёт движок.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Ranks == nil || cfg.Ranks.Len() == 0 {
		return nil, shared.ErrEmptyRankTable
	}
	if cfg.Curve(1) <= 0 {
		return nil, shared.ErrInvalidLevelCurve
	}
	return &Engine{cfg: cfg}, nil
}

// MustNewEngine как NewEngine, но паникует при ошибке.
func MustNewEngine(opts ...Option) *Engine {
	e, err := NewEngine(opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Ranks возвращает таблицу рангов движка.
func (e *Engine) Ranks() *rank.Table {
	return e.cfg.Ranks
}

// Config возвращает копию конфигурации.
func (e *Engine) Config() Config {
	return e.cfg
}

// Now возвращает текущее время по часам движка.
func (e *Engine) Now() time.Time {
	return e.cfg.Clock.Now()
}

// XPForLevel возвращает порог уровня по кривой движка.
func (e *Engine) XPForLevel(level int) int {
	return e.cfg.Curve(level)
}

// NewState возвращает начальное состояние: минимальный ранг, уровень 1,
// 0 XP, порог кривой для уровня 1, множитель 1.0.
func (e *Engine) NewState(userID string) State {
	lowest := e.cfg.Ranks.Min()
	s := State{
		UserID: userID,
		Progress: UserProgress{
			CurrentRank:      lowest.ID,
			CurrentLevel:     1,
			XPToNextLevel:    e.cfg.Curve(1),
			Multiplier:       1.0,
			LastActivityDate: e.Now(),
		},
		Prestige: PrestigeProgress{
			CumulativeMultiplier: 1.0,
			ActiveBonuses:        []PrestigeBonus{},
		},
		Registered: []MultiplierSource{},
		History:    []HistoryEntry{},
		XPEvents:   []XPEvent{},
	}
	if next, ok := e.cfg.Ranks.Next(lowest.ID); ok {
		s.Progress.NextRank = next.ID.Ptr()
	}
	s.Multipliers = e.breakdown(s, e.Now())
	s.Progress.Multiplier = s.Multipliers.Total
	return s
}
