package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

func TestProgressStore(t *testing.T) {
	s := NewProgressStore()
	ctx := context.Background()
	engine := progression.MustNewEngine()

	_, err := s.Load(ctx, "alice")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	st, _, err := engine.AddXP(engine.NewState("alice"), 120, progression.SourceDailyChallenge, "")
	require.NoError(t, err)
	doc := progression.NewDocument(st, 2, engine.Now())
	require.NoError(t, s.Save(ctx, doc))

	got, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 120, got.Progress.TotalXP)

	got.History = append(got.History, progression.HistoryEntry{ID: "mutated"})
	again, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, again.History, len(st.History))

	assert.ErrorIs(t, s.Save(ctx, progression.NewDocument(st, 1, engine.Now())), shared.ErrConcurrentModification)
	require.NoError(t, s.Delete(ctx, "alice"))
	assert.Zero(t, s.Len())
}
