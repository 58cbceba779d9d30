package messaging

import (
	"sync"
	"time"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// EventBusMetrics counts publishes and handler runs.
type EventBusMetrics struct {
	mu         sync.Mutex
	published  map[shared.EventType]int64
	failed     map[shared.EventType]int64
	executions int64
	failures   int64
	busy       time.Duration
}

// NewEventBusMetrics creates empty counters.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{
		published: make(map[shared.EventType]int64),
		failed:    make(map[shared.EventType]int64),
	}
}

// RecordPublish counts one published event.
func (m *EventBusMetrics) RecordPublish(t shared.EventType) {
	m.mu.Lock()
	m.published[t]++
	m.mu.Unlock()
}

// RecordHandlerExecution counts one handler run.
func (m *EventBusMetrics) RecordHandlerExecution(t shared.EventType, d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions++
	m.busy += d
	if !ok {
		m.failures++
		m.failed[t]++
	}
}

// EventBusMetricsSnapshot is a copy of the counters for the health endpoint.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64                      `json:"total_published"`
	PublishedByType        map[shared.EventType]int64 `json:"published_by_type"`
	TotalHandlerExecs      int64                      `json:"total_handler_execs"`
	HandlerFailures        int64                      `json:"handler_failures"`
	FailuresByType         map[shared.EventType]int64 `json:"failures_by_type,omitempty"`
	HandlerSuccessRate     float64                    `json:"handler_success_rate"`
	AverageHandlerDuration time.Duration              `json:"average_handler_duration"`
}

// Snapshot copies the counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := EventBusMetricsSnapshot{
		PublishedByType:    make(map[shared.EventType]int64, len(m.published)),
		FailuresByType:     make(map[shared.EventType]int64, len(m.failed)),
		TotalHandlerExecs:  m.executions,
		HandlerFailures:    m.failures,
		HandlerSuccessRate: 1.0,
	}
	for t, n := range m.published {
		snap.PublishedByType[t] = n
		snap.TotalPublished += n
	}
	for t, n := range m.failed {
		snap.FailuresByType[t] = n
	}
	if m.executions > 0 {
		snap.AverageHandlerDuration = m.busy / time.Duration(m.executions)
		snap.HandlerSuccessRate = float64(m.executions-m.failures) / float64(m.executions)
	}
	return snap
}
