package progression

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamilit/ranks-engine/internal/domain/rank"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

func TestDocument_DatesRehydrate(t *testing.T) {
	e, clock := newTestEngine(t)
	s := e.NewState("user-doc")
	s, _, err := e.AddXP(s, 130, SourceExerciseCompletion, "")
	require.NoError(t, err)
	expires := clock.Now().Add(48 * time.Hour)
	s, _, err = e.AddMultiplierSource(s, MultiplierSource{Type: MultiplierEvent, Name: "Fiesta", Value: 1.2, ExpiresAt: &expires})
	require.NoError(t, err)

	raw, err := NewDocument(s, 3, clock.Now()).Encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"lastActivityDate":"2024-06-01T12:00:00Z"`)
	assert.Contains(t, string(raw), `"userProgress"`)
	assert.Contains(t, string(raw), `"progressionHistory"`)
	assert.NotContains(t, string(raw), "showRankUpModal")

	doc, err := DecodeDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc.Revision)
	assert.True(t, s.Progress.LastActivityDate.Equal(doc.Progress.LastActivityDate))
	require.Len(t, doc.Registered, 1)
	require.NotNil(t, doc.Registered[0].ExpiresAt)
	assert.True(t, expires.Equal(*doc.Registered[0].ExpiresAt))
	require.Len(t, doc.History, 1)
	assert.Equal(t, HistoryLevelUp, doc.History[0].Type)
}

func TestDecodeDocument_Rejects(t *testing.T) {
	_, err := DecodeDocument([]byte("{"))
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)

	_, err = DecodeDocument([]byte(`{"version": 99}`))
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}

func TestNormalize(t *testing.T) {
	e, _ := newTestEngine(t)
	s := e.NewState("user-1")
	s.Progress.CurrentRank = rank.AhKin
	s.Progress.CurrentLevel = 0
	s.Progress.CurrentXP = 250
	s.Progress.XPToNextLevel = 0
	s.Prestige.CumulativeMultiplier = 0

	n, _, err := e.Normalize(s)
	require.NoError(t, err)
	assert.Equal(t, 2, n.Progress.CurrentLevel)
	assert.Equal(t, 150, n.Progress.CurrentXP)
	assert.Equal(t, 200, n.Progress.XPToNextLevel)
	require.NotNil(t, n.Progress.NextRank)
	assert.Equal(t, rank.HalachUinic, *n.Progress.NextRank)
	assert.InDelta(t, 1.5, n.Multipliers.Total, 1e-9)
	assert.Equal(t, 1.0, n.Prestige.CumulativeMultiplier)

	s.Progress.CurrentRank = "Bogus"
	_, _, err = e.Normalize(s)
	assert.True(t, strings.Contains(err.Error(), "Bogus"))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
