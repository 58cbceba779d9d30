// Package rank описывает статическую таблицу рангов: упорядоченный
// список ступеней, порог в ML Coins для входа в каждую и множитель XP.
package rank

import (
	"strings"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK DEFINITION
// ══════════════════════════════════════════════════════════════════════════════

// ID - стабильный идентификатор ранга (например, "Nacom").
type ID string

// String возвращает строковое представление.
func (id ID) String() string {
	return string(id)
}

// IsEmpty проверяет, пустой ли идентификатор.
func (id ID) IsEmpty() bool {
	return strings.TrimSpace(string(id)) == ""
}

// Ptr возвращает указатель на копию идентификатора.
func (id ID) Ptr() *ID {
	return &id
}

// Definition - одна ступень лестницы рангов.
type Definition struct {
	// ID - стабильный идентификатор.
	ID ID `json:"id" yaml:"id"`

	// Name - отображаемое имя.
	Name string `json:"name" yaml:"name"`

	// DisplayName - локализованное имя (в исходных данных на испанском).
	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty"`

	// Description - описание ранга.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// MLCoinsRequired - порог ML Coins для входа в ранг.
	MLCoinsRequired int `json:"mlCoinsRequired" yaml:"mlCoinsRequired"`

	// Multiplier - множитель XP, который даёт ранг (≥ 1.0).
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`

	// PromotionBonus - ML Coins, начисляемые при повышении до этого ранга
	// (если движок настроен начислять бонус).
	PromotionBonus int `json:"promotionBonus,omitempty" yaml:"promotionBonus,omitempty"`

	// Benefits - список открываемых преимуществ.
	Benefits []string `json:"benefits,omitempty" yaml:"benefits,omitempty"`

	// Order - порядковый номер в лестнице (0 - самый низкий).
	Order int `json:"order" yaml:"order"`
}

// Validate проверяет корректность определения ранга.
func (d Definition) Validate() error {
	if d.ID.IsEmpty() {
		return shared.WrapError("rank", "Validate", shared.ErrEmptyValue, "rank id is required", shared.ErrInvalidRankTable)
	}
	if d.MLCoinsRequired < 0 {
		return shared.WrapError("rank", "Validate", shared.ErrNegativeValue, "mlCoinsRequired cannot be negative: "+string(d.ID), shared.ErrInvalidRankTable)
	}
	if d.Multiplier < 1.0 {
		return shared.WrapError("rank", "Validate", shared.ErrValueOutOfRange, "multiplier must be at least 1.0: "+string(d.ID), shared.ErrInvalidRankTable)
	}
	if d.PromotionBonus < 0 {
		return shared.WrapError("rank", "Validate", shared.ErrNegativeValue, "promotionBonus cannot be negative: "+string(d.ID), shared.ErrInvalidRankTable)
	}
	if d.Order < 0 {
		return shared.WrapError("rank", "Validate", shared.ErrNegativeValue, "order cannot be negative: "+string(d.ID), shared.ErrInvalidRankTable)
	}
	return nil
}

// Label возвращает имя для показа пользователю.
func (d Definition) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	if d.Name != "" {
		return d.Name
	}
	return string(d.ID)
}

// clone возвращает копию без общих срезов.
func (d Definition) clone() Definition {
	if d.Benefits != nil {
		d.Benefits = append([]string(nil), d.Benefits...)
	}
	return d
}
