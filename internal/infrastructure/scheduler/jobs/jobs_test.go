package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
)

type fakeSweeper struct{ removed int }

func (f *fakeSweeper) SweepExpired() int { return f.removed }

type fakeFlusher struct {
	saved int
	err   error
	saver ranks.SnapshotSaver
}

func (f *fakeFlusher) Flush(_ context.Context, saver ranks.SnapshotSaver) (int, error) {
	f.saver = saver
	return f.saved, f.err
}

type nopSaver struct{}

func (nopSaver) Save(context.Context, progression.Document) error { return nil }

func TestMultiplierSweepJob(t *testing.T) {
	job := NewMultiplierSweepJob(&fakeSweeper{removed: 3}, nil)
	assert.Equal(t, "multiplier-sweep", job.Name())
	assert.Nil(t, job.LastRunStats())

	require.NoError(t, job.Run(context.Background()))
	require.NotNil(t, job.LastRunStats())
	assert.Equal(t, 3, job.LastRunStats().Removed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
}

func TestSnapshotFlushJob(t *testing.T) {
	saver := nopSaver{}
	flusher := &fakeFlusher{saved: 2}
	job := NewSnapshotFlushJob(flusher, saver, nil)
	assert.Equal(t, "snapshot-flush", job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, saver, flusher.saver)
	assert.Equal(t, 2, job.LastRunStats().Saved)
	assert.False(t, job.LastRunStats().Failed)

	flusher.err = errors.New("save bob: disk full")
	flusher.saved = 1
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.True(t, job.LastRunStats().Failed)
	assert.Equal(t, 1, job.LastRunStats().Saved)
}
