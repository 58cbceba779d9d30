package rank

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

func TestDefaultTable_Ladder(t *testing.T) {
	table := DefaultTable()

	assert.Equal(t, 5, table.Len())
	assert.Equal(t, Nacom, table.Min().ID)
	assert.Equal(t, Kukulkan, table.Max().ID)
	assert.True(t, table.IsMax(Kukulkan))
	assert.False(t, table.IsMax(Ajaw))

	next, ok := table.Next(Nacom)
	require.True(t, ok)
	assert.Equal(t, Ajaw, next.ID)
	assert.Equal(t, 200, next.MLCoinsRequired)
	assert.Equal(t, 1.25, next.Multiplier)

	_, ok = table.Next(Kukulkan)
	assert.False(t, ok)

	prev, ok := table.Previous(Ajaw)
	require.True(t, ok)
	assert.Equal(t, Nacom, prev.ID)

	_, ok = table.Previous(Nacom)
	assert.False(t, ok)
}

func TestTable_CompareUsesOrder(t *testing.T) {
	table := DefaultTable()

	assert.Equal(t, -1, table.Compare(Nacom, Ajaw))
	assert.Equal(t, 1, table.Compare(Kukulkan, HalachUinic))
	assert.Equal(t, 0, table.Compare(AhKin, AhKin))
	assert.Equal(t, -1, table.Compare("unknown", Nacom))
}

func TestNewTable_SortsByOrder(t *testing.T) {
	table, err := NewTable([]Definition{
		{ID: "gold", MLCoinsRequired: 100, Multiplier: 1.5, Order: 2},
		{ID: "bronze", MLCoinsRequired: 0, Multiplier: 1.0, Order: 0},
		{ID: "silver", MLCoinsRequired: 50, Multiplier: 1.2, Order: 1},
	})
	require.NoError(t, err)

	ids := make([]ID, 0, table.Len())
	for _, d := range table.Ordered() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []ID{"bronze", "silver", "gold"}, ids)
}

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
		kind error
	}{
		{"empty", nil, shared.ErrEmptyValue},
		{"duplicate id", []Definition{
			{ID: "a", Multiplier: 1, Order: 0},
			{ID: "a", Multiplier: 1, Order: 1},
		}, shared.ErrAlreadyExists},
		{"duplicate order", []Definition{
			{ID: "a", Multiplier: 1, Order: 0},
			{ID: "b", Multiplier: 1, Order: 0},
		}, shared.ErrAlreadyExists},
		{"multiplier below one", []Definition{
			{ID: "a", Multiplier: 0.5, Order: 0},
		}, shared.ErrValueOutOfRange},
		{"decreasing threshold", []Definition{
			{ID: "a", MLCoinsRequired: 100, Multiplier: 1, Order: 0},
			{ID: "b", MLCoinsRequired: 10, Multiplier: 1, Order: 1},
		}, shared.ErrValueOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.defs)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestLoadTable(t *testing.T) {
	raw := `[
		{"id": "novice", "name": "Novice", "mlCoinsRequired": 0, "multiplier": 1.0, "order": 0},
		{"id": "expert", "name": "Expert", "mlCoinsRequired": 300, "multiplier": 1.4, "order": 1, "benefits": ["badge"]}
	]`

	table, err := LoadTable(strings.NewReader(raw))
	require.NoError(t, err)

	expert, ok := table.Get("expert")
	require.True(t, ok)
	assert.Equal(t, 300, expert.MLCoinsRequired)
	assert.Equal(t, []string{"badge"}, expert.Benefits)

	_, err = LoadTable(strings.NewReader("{not json"))
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}

func TestLoadTable_YAML(t *testing.T) {
	raw := `
- id: novice
  name: Novice
  mlCoinsRequired: 0
  multiplier: 1.0
  order: 0
- id: expert
  name: Expert
  displayName: Experto
  mlCoinsRequired: 300
  multiplier: 1.4
  promotionBonus: 50
  order: 1
`
	table, err := LoadTable(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	expert, ok := table.Get("expert")
	require.True(t, ok)
	assert.Equal(t, "Experto", expert.Label())
	assert.Equal(t, 50, expert.PromotionBonus)
	assert.InDelta(t, 1.4, expert.Multiplier, 1e-9)

	_, err = LoadTable(strings.NewReader("- id: [broken"))
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)

	_, err = LoadTable(strings.NewReader(""))
	assert.ErrorIs(t, err, shared.ErrEmptyRankTable)
}

func TestTable_ReturnsCopies(t *testing.T) {
	table := DefaultTable()

	d, ok := table.Get(Ajaw)
	require.True(t, ok)
	d.Benefits[0] = "mutated"

	again, _ := table.Get(Ajaw)
	assert.NotEqual(t, "mutated", again.Benefits[0])
}
