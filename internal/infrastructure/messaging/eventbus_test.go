package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

var at = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()
	var typed, all []shared.EventType

	require.NoError(t, bus.Subscribe(shared.EventRankUp, func(ev shared.Event) error {
		typed = append(typed, ev.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(ev shared.Event) error {
		all = append(all, ev.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", 10, 10, "daily_challenge", at)))
	require.NoError(t, bus.Publish(shared.NewRankUpEvent("u1", "Nacom", "Ajaw", nil, 1.25, at)))

	assert.Equal(t, []shared.EventType{shared.EventRankUp}, typed)
	assert.Equal(t, []shared.EventType{shared.EventXPGained, shared.EventRankUp}, all)

	snap := bus.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.TotalPublished)
	assert.EqualValues(t, 3, snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerFailureAndPanic(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))

	assert.NoError(t, bus.Publish(shared.NewProgressResetEvent("u1", at)))

	snap := bus.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.HandlerFailures)
	assert.InDelta(t, 0.0, snap.HandlerSuccessRate, 1e-9)
}

func TestInMemoryEventBus_AsyncDrain(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})
	var (
		mu    sync.Mutex
		count int
	)
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", i, i, "x", at)))
	}
	bus.Drain()

	mu.Lock()
	assert.Equal(t, 20, count)
	mu.Unlock()
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewProgressResetEvent("u1", at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS RELAY
// ══════════════════════════════════════════════════════════════════════════════

type fakeRedis struct {
	mu        sync.Mutex
	published [][]byte
	ch        chan RedisMessage
	closed    bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{ch: make(chan RedisMessage, 8)}
}

func (f *fakeRedis) Publish(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeRedis) Subscribe(context.Context, string) (<-chan RedisMessage, error) {
	return f.ch, nil
}

func (f *fakeRedis) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRedisEventBus_RelaysRemoteEventsOnly(t *testing.T) {
	client := newFakeRedis()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     "local",
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)

	received := make(chan shared.Event, 4)
	require.NoError(t, bus.SubscribeAll(func(ev shared.Event) error {
		received <- ev
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, 200, at)))
	require.Len(t, client.published, 1)
	<-received

	var relay relayMessage
	require.NoError(t, json.Unmarshal(client.published[0], &relay))
	assert.Equal(t, "local", relay.InstanceID)
	assert.Equal(t, shared.EventLevelUp, relay.Event.Type)

	// own echo is ignored
	client.ch <- RedisMessage{Payload: string(client.published[0])}

	remote := relay
	remote.InstanceID = "other"
	data, err := json.Marshal(remote)
	require.NoError(t, err)
	client.ch <- RedisMessage{Payload: string(data)}

	select {
	case ev := <-received:
		assert.Equal(t, shared.EventLevelUp, ev.EventType())
		assert.Equal(t, "u1", ev.AggregateID())
		rev, ok := ev.(*RemoteEvent)
		require.True(t, ok)
		assert.EqualValues(t, 2, rev.Payload()["new_level"])
		assert.Equal(t, at, rev.OccurredAt().UTC())
	case <-time.After(2 * time.Second):
		t.Fatal("remote event not delivered")
	}

	require.NoError(t, bus.Close())
	assert.True(t, client.closed)
	assert.Empty(t, received)
}
