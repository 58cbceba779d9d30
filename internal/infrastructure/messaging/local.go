// Package messaging implements event bus functionality for the ranks engine.
// It provides an in-memory bus and a Redis-relayed bus so that several
// engine instances see each other's progression events.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a panic recovered from a handler.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// wildcard keys handlers registered through SubscribeAll.
const wildcard shared.EventType = "*"

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded pool instead of the publisher's
	// goroutine.
	AsyncMode bool

	// WorkerPoolSize caps concurrent async handlers.
	WorkerPoolSize int

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig runs handlers asynchronously on 10 workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10}
}

// InMemoryEventBus delivers events to handlers in this process. Handler
// errors are logged and counted, never returned to the publisher.
type InMemoryEventBus struct {
	async   bool
	slots   chan struct{}
	logger  *slog.Logger
	metrics *EventBusMetrics

	mu     sync.RWMutex
	subs   map[shared.EventType][]shared.EventHandler
	closed bool
	done   chan struct{}

	inflight sync.WaitGroup
}

// NewInMemoryEventBus creates an open bus.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	return &InMemoryEventBus{
		async:   cfg.AsyncMode,
		slots:   make(chan struct{}, cfg.WorkerPoolSize),
		logger:  cfg.Logger.With("component", "event_bus"),
		metrics: NewEventBusMetrics(),
		subs:    make(map[shared.EventType][]shared.EventHandler),
		done:    make(chan struct{}),
	}
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(eventType, handler)
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(wildcard, handler)
}

func (b *InMemoryEventBus) add(key shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.subs[key] = append(b.subs[key], handler)
	b.logger.Debug("handler subscribed", "event_type", key)
	return nil
}

// Publish hands event to typed handlers first, then to wildcard handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed, all := b.subs[event.EventType()], b.subs[wildcard]
	targets := make([]shared.EventHandler, 0, len(typed)+len(all))
	targets = append(append(targets, typed...), all...)
	if b.async {
		b.inflight.Add(len(targets))
	}
	b.mu.RUnlock()

	b.metrics.RecordPublish(event.EventType())

	for _, h := range targets {
		if b.async {
			go b.dispatchAsync(event, h)
		} else {
			b.dispatch(event, h)
		}
	}
	return nil
}

func (b *InMemoryEventBus) dispatchAsync(event shared.Event, h shared.EventHandler) {
	defer b.inflight.Done()
	select {
	case b.slots <- struct{}{}:
	case <-b.done:
		return
	}
	defer func() { <-b.slots }()
	b.dispatch(event, h)
}

func (b *InMemoryEventBus) dispatch(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := callHandler(event, h)
	b.metrics.RecordHandlerExecution(event.EventType(), time.Since(start), err == nil)
	if err != nil {
		b.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
	}
}

func callHandler(event shared.Event, h shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(event)
}

// Drain waits for every async handler started so far.
func (b *InMemoryEventBus) Drain() {
	b.inflight.Wait()
}

// Close rejects further publishes, drops queued async handlers and waits
// for running ones. Close is idempotent.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.inflight.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// Metrics returns the bus counters.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}
