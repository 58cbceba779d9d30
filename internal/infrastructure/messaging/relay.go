package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the pub/sub surface the relay needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one message received on the relay channel.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to "ranks:events".
	ChannelName string

	// InstanceID tags outgoing messages so the sender can drop its own echo.
	// Generated when empty.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers events locally and mirrors them to a Redis channel.
// Events from other instances are replayed on the local bus as RemoteEvent.
type RedisEventBus struct {
	*InMemoryEventBus

	client   RedisClient
	channel  string
	instance string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup
	once   sync.Once
}

// NewRedisEventBus subscribes to the channel and starts the replay loop.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = "ranks:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisEventBus{
		InMemoryEventBus: NewInMemoryEventBus(cfg.LocalBusConfig),
		client:           cfg.Client,
		channel:          cfg.ChannelName,
		instance:         cfg.InstanceID,
		logger:           cfg.Logger.With("component", "redis_event_bus", "instance", cfg.InstanceID),
		ctx:              ctx,
		cancel:           cancel,
	}

	messages, err := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ChannelName, err)
	}
	b.loop.Add(1)
	go b.replay(messages)
	return b, nil
}

// Publish mirrors event to Redis and then delivers it locally. A Redis
// failure is logged and does not block local delivery.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if b.ctx.Err() != nil {
		return ErrEventBusClosed
	}

	if err := b.mirror(event); err != nil {
		b.logger.Error("event relay failed", "event_type", event.EventType(), "error", err)
	}
	return b.InMemoryEventBus.Publish(event)
}

func (b *RedisEventBus) mirror(event shared.Event) error {
	env, err := shared.NewEventEnvelope(uuid.NewString(), event)
	if err != nil {
		return fmt.Errorf("envelope: %w", err)
	}
	data, err := json.Marshal(relayMessage{InstanceID: b.instance, Event: env})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return b.client.Publish(b.ctx, b.channel, data)
}

func (b *RedisEventBus) replay(messages <-chan RedisMessage) {
	defer b.loop.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Error("relay subscription error", "error", msg.Err)
				continue
			}
			b.receive(msg.Payload)
		}
	}
}

func (b *RedisEventBus) receive(payload string) {
	var relay relayMessage
	if err := json.Unmarshal([]byte(payload), &relay); err != nil {
		b.logger.Warn("dropping malformed relay message", "error", err)
		return
	}
	if relay.InstanceID == b.instance {
		return
	}
	event, err := NewRemoteEvent(relay.Event)
	if err != nil {
		b.logger.Warn("dropping undecodable remote event", "event_type", relay.Event.Type, "error", err)
		return
	}
	if err := b.InMemoryEventBus.Publish(event); err != nil && !errors.Is(err, ErrEventBusClosed) {
		b.logger.Error("remote event delivery failed", "event_type", event.EventType(), "error", err)
	}
}

// Close stops the replay loop, closes the local bus and then the client.
func (b *RedisEventBus) Close() error {
	var err error
	b.once.Do(func() {
		b.cancel()
		b.loop.Wait()
		err = errors.Join(b.InMemoryEventBus.Close(), b.client.Close())
		b.logger.Info("redis event bus closed")
	})
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// RELAY ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

type relayMessage struct {
	InstanceID string               `json:"instance_id"`
	Event      shared.EventEnvelope `json:"event"`
}

// RemoteEvent is an event replayed from another instance.
type RemoteEvent struct {
	env     shared.EventEnvelope
	payload map[string]any
}

// NewRemoteEvent rebuilds an event from its transport envelope.
func NewRemoteEvent(env shared.EventEnvelope) (*RemoteEvent, error) {
	payload := map[string]any{}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
	}
	return &RemoteEvent{env: env, payload: payload}, nil
}

func (e *RemoteEvent) EventType() shared.EventType { return e.env.Type }
func (e *RemoteEvent) AggregateID() string         { return e.env.AggregateID }
func (e *RemoteEvent) OccurredAt() time.Time       { return e.env.OccurredAt }
func (e *RemoteEvent) Payload() map[string]any     { return e.payload }

// Envelope returns the transport envelope the event arrived in.
func (e *RemoteEvent) Envelope() shared.EventEnvelope { return e.env }
