package ranks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/rank"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

type memSnapshots struct {
	mu      sync.Mutex
	docs    map[string]progression.Document
	saveErr map[string]error
	loadErr error
	saves   int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{
		docs:    make(map[string]progression.Document),
		saveErr: make(map[string]error),
	}
}

func (m *memSnapshots) Load(_ context.Context, userID string) (progression.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return progression.Document{}, m.loadErr
	}
	doc, ok := m.docs[userID]
	if !ok {
		return progression.Document{}, shared.ErrNotFound
	}
	return doc, nil
}

func (m *memSnapshots) Save(_ context.Context, doc progression.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveErr[doc.UserID]; err != nil {
		return err
	}
	m.docs[doc.UserID] = doc
	m.saves++
	return nil
}

func TestSessions_GetCreatesOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	s := NewSessions(e)

	a, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)
	b, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, rank.Nacom, a.UserProgress().CurrentRank)

	_, err = s.Get(context.Background(), " ")
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}

func TestSessions_RestoresFromLoader(t *testing.T) {
	e, _ := newTestEngine(t)
	snaps := newMemSnapshots()

	seed, err := NewStore(e, "alice")
	require.NoError(t, err)
	require.NoError(t, seed.AddXP(250, progression.SourceExerciseCompletion, ""))
	require.NoError(t, snaps.Save(context.Background(), seed.Document()))

	src := &stubSource{err: errors.New("must not be called")}
	s := NewSessions(e, WithSnapshotLoader(snaps), WithRemoteHydration(src))

	st, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, seed.UserProgress().CurrentLevel, st.UserProgress().CurrentLevel)
	assert.Equal(t, seed.UserProgress().TotalXP, st.UserProgress().TotalXP)
	assert.False(t, st.Dirty())
	assert.Zero(t, src.calls)
}

func TestSessions_FallsBackToRemote(t *testing.T) {
	e, _ := newTestEngine(t)
	src := &stubSource{progress: RemoteProgress{
		CurrentRank:      "Ajaw",
		CurrentLevel:     4,
		CurrentXP:        20,
		TotalXP:          620,
		MLCoinsEarned:    300,
		LastActivityDate: "2024-05-31T10:00:00Z",
	}}
	s := NewSessions(e, WithSnapshotLoader(newMemSnapshots()), WithRemoteHydration(src))

	st, err := s.Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, rank.Ajaw, st.UserProgress().CurrentRank)
	assert.Equal(t, 4, st.UserProgress().CurrentLevel)
}

func TestSessions_RemoteFailureStillReturnsStore(t *testing.T) {
	e, _ := newTestEngine(t)
	src := &stubSource{err: errors.New("Network error")}
	s := NewSessions(e, WithRemoteHydration(src))

	st, err := s.Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Network error", st.Error())
	assert.Equal(t, rank.Nacom, st.UserProgress().CurrentRank)
}

func TestSessions_LoaderErrorIsReturned(t *testing.T) {
	e, _ := newTestEngine(t)
	snaps := newMemSnapshots()
	snaps.loadErr = errors.New("disk on fire")
	s := NewSessions(e, WithSnapshotLoader(snaps))

	_, err := s.Get(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Zero(t, s.Len())
}

func TestSessions_Flush(t *testing.T) {
	e, _ := newTestEngine(t)
	s := NewSessions(e)
	snaps := newMemSnapshots()
	ctx := context.Background()

	alice, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	bob, err := s.Get(ctx, "bob")
	require.NoError(t, err)
	_, err = s.Get(ctx, "carol")
	require.NoError(t, err)

	require.NoError(t, alice.AddXP(50, progression.SourceDailyChallenge, ""))
	require.NoError(t, bob.AddMLCoins(10, "quest"))
	snaps.saveErr["bob"] = errors.New("write failed")

	saved, err := s.Flush(ctx, snaps)
	assert.Equal(t, 1, saved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save bob")
	assert.False(t, alice.Dirty())
	assert.True(t, bob.Dirty())

	delete(snaps.saveErr, "bob")
	saved, err = s.Flush(ctx, snaps)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Equal(t, 2, snaps.saves)
}

func TestSessions_FlushEvictsIdle(t *testing.T) {
	e, clock := newTestEngine(t)
	s := NewSessions(e, WithIdleTTL(time.Hour))
	snaps := newMemSnapshots()
	ctx := context.Background()

	alice, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	for _, id := range []string{"bob", "carol"} {
		_, err := s.Get(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, alice.AddXP(50, progression.SourceDailyChallenge, ""))

	clock.Advance(30 * time.Minute)
	_, err = s.Get(ctx, "bob")
	require.NoError(t, err)
	clock.Advance(45 * time.Minute)

	snaps.saveErr["alice"] = errors.New("write failed")
	_, err = s.Flush(ctx, snaps)
	require.Error(t, err)

	_, ok := s.Peek("carol")
	assert.False(t, ok, "idle clean session is evicted")
	_, ok = s.Peek("bob")
	assert.True(t, ok, "recently used session stays")
	_, ok = s.Peek("alice")
	assert.True(t, ok, "unsaved session stays")

	delete(snaps.saveErr, "alice")
	saved, err := s.Flush(ctx, snaps)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	_, ok = s.Peek("alice")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestSessions_NoIdleTTLKeepsSessions(t *testing.T) {
	e, clock := newTestEngine(t)
	s := NewSessions(e)
	_, err := s.Get(context.Background(), "alice")
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	_, err = s.Flush(context.Background(), newMemSnapshots())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestSessions_SweepExpired(t *testing.T) {
	e, clock := newTestEngine(t)
	s := NewSessions(e)
	ctx := context.Background()
	expires := clock.Now().Add(time.Hour)

	for _, id := range []string{"alice", "bob"} {
		st, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.NoError(t, st.AddMultiplierSource(progression.MultiplierSource{
			Type: progression.MultiplierEvent, Name: "Weekend", Value: 1.2, ExpiresAt: &expires,
		}))
	}

	assert.Zero(t, s.SweepExpired())
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 2, s.SweepExpired())

	st, ok := s.Peek("alice")
	require.True(t, ok)
	assert.InDelta(t, 1.0, st.MultiplierBreakdown().Total, 1e-9)
}

func TestSessions_EvictAndAll(t *testing.T) {
	e, _ := newTestEngine(t)
	s := NewSessions(e)
	ctx := context.Background()
	for _, id := range []string{"carol", "alice", "bob"} {
		_, err := s.Get(ctx, id)
		require.NoError(t, err)
	}

	all := s.All()
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].UserID())
	assert.Equal(t, "carol", all[2].UserID())

	s.Evict("bob")
	_, ok := s.Peek("bob")
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
}

type slowSnapshots struct {
	*memSnapshots
	loads   atomic.Int32
	release chan struct{}
}

func (s *slowSnapshots) Load(ctx context.Context, userID string) (progression.Document, error) {
	s.loads.Add(1)
	<-s.release
	return s.memSnapshots.Load(ctx, userID)
}

func TestSessions_ConcurrentGetHydratesOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	snaps := &slowSnapshots{memSnapshots: newMemSnapshots(), release: make(chan struct{})}
	s := NewSessions(e, WithSnapshotLoader(snaps))

	const callers = 8
	got := make([]*Store, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.Get(context.Background(), "zoe")
			assert.NoError(t, err)
			got[i] = st
		}()
	}

	require.Eventually(t, func() bool { return snaps.loads.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(snaps.release)
	wg.Wait()

	assert.Equal(t, int32(1), snaps.loads.Load())
	for _, st := range got[1:] {
		assert.Same(t, got[0], st)
	}
	assert.Equal(t, 1, s.Len())
}
