package rank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK TABLE
// ══════════════════════════════════════════════════════════════════════════════

// Table - неизменяемая упорядоченная лестница рангов.
// Все сравнения рангов идут по Order, а не по именам.
type Table struct {
	ordered []Definition
	byID    map[ID]int
}

// NewTable строит таблицу, сортируя определения по Order.
// Идентификаторы и порядковые номера должны быть уникальны.
func NewTable(defs []Definition) (*Table, error) {
	if len(defs) == 0 {
		return nil, shared.ErrEmptyRankTable
	}

	ordered := make([]Definition, 0, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		ordered = append(ordered, d.clone())
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})

	byID := make(map[ID]int, len(ordered))
	for i, d := range ordered {
		if _, dup := byID[d.ID]; dup {
			return nil, shared.WrapError("rank", "NewTable", shared.ErrAlreadyExists, "duplicate rank id "+string(d.ID), shared.ErrDuplicateRank)
		}
		if i > 0 && ordered[i-1].Order == d.Order {
			return nil, shared.WrapError("rank", "NewTable", shared.ErrAlreadyExists, fmt.Sprintf("duplicate rank order %d", d.Order), shared.ErrDuplicateRank)
		}
		if i > 0 && d.MLCoinsRequired < ordered[i-1].MLCoinsRequired {
			return nil, shared.WrapError("rank", "NewTable", shared.ErrValueOutOfRange, "mlCoinsRequired must not decrease along the ladder", shared.ErrInvalidRankTable)
		}
		byID[d.ID] = i
	}

	return &Table{ordered: ordered, byID: byID}, nil
}

// MustNewTable как NewTable, но паникует при ошибке.
func MustNewTable(defs []Definition) *Table {
	t, err := NewTable(defs)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTable читает таблицу рангов: JSON-массив определений или
// YAML-список с теми же ключами.
func LoadTable(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, shared.WrapError("rank", "LoadTable", shared.ErrInvalidInput, "read rank table", err)
	}

	var defs []Definition
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		err = json.Unmarshal(trimmed, &defs)
	} else {
		err = yaml.Unmarshal(raw, &defs)
	}
	if err != nil {
		return nil, shared.WrapError("rank", "LoadTable", shared.ErrInvalidFormat, "decode rank table", err)
	}
	return NewTable(defs)
}

// Len возвращает количество рангов.
func (t *Table) Len() int {
	return len(t.ordered)
}

// Get возвращает определение по идентификатору.
func (t *Table) Get(id ID) (Definition, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Definition{}, false
	}
	return t.ordered[i].clone(), true
}

// MustGet возвращает определение или ErrRankNotFound.
func (t *Table) MustGet(id ID) (Definition, error) {
	d, ok := t.Get(id)
	if !ok {
		return Definition{}, shared.WrapError("rank", "Get", shared.ErrNotFound, "unknown rank "+string(id), shared.ErrRankNotFound)
	}
	return d, nil
}

// ByOrder возвращает определение с указанным порядковым номером.
func (t *Table) ByOrder(order int) (Definition, bool) {
	for _, d := range t.ordered {
		if d.Order == order {
			return d.clone(), true
		}
	}
	return Definition{}, false
}

// Next возвращает ранг, следующий за id. ok=false для максимального
// или неизвестного ранга.
func (t *Table) Next(id ID) (Definition, bool) {
	i, ok := t.byID[id]
	if !ok || i+1 >= len(t.ordered) {
		return Definition{}, false
	}
	return t.ordered[i+1].clone(), true
}

// Previous возвращает ранг перед id.
func (t *Table) Previous(id ID) (Definition, bool) {
	i, ok := t.byID[id]
	if !ok || i == 0 {
		return Definition{}, false
	}
	return t.ordered[i-1].clone(), true
}

// Min возвращает самый низкий ранг.
func (t *Table) Min() Definition {
	return t.ordered[0].clone()
}

// Max возвращает самый высокий ранг.
func (t *Table) Max() Definition {
	return t.ordered[len(t.ordered)-1].clone()
}

// IsMax проверяет, является ли ранг максимальным.
func (t *Table) IsMax(id ID) bool {
	return t.ordered[len(t.ordered)-1].ID == id
}

// Compare сравнивает два ранга по порядку: -1, 0 или 1.
// Неизвестные ранги считаются ниже любого известного.
func (t *Table) Compare(a, b ID) int {
	ia, oka := t.byID[a]
	ib, okb := t.byID[b]
	switch {
	case !oka && !okb:
		return 0
	case !oka:
		return -1
	case !okb:
		return 1
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	default:
		return 0
	}
}

// Ordered возвращает копию лестницы от низшего ранга к высшему.
func (t *Table) Ordered() []Definition {
	out := make([]Definition, len(t.ordered))
	for i, d := range t.ordered {
		out[i] = d.clone()
	}
	return out
}
