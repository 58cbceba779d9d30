// Package circuitbreaker stops calling a failing dependency for a while
// and probes it before letting traffic back through.
// Wraps the rank API client and the snapshot database.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen is returned while the circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when every half-open probe slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// IsRejection reports whether err came from the breaker rather than the call.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// ════════════════════════════════════════════════════════════════════════════
// Options
// ════════════════════════════════════════════════════════════════════════════

type settings struct {
	failureThreshold int
	successThreshold int
	openFor          time.Duration
	maxProbes        int
	onStateChange    func(name string, from, to State)
	isFailure        func(error) bool
	clock            clockwork.Clock
}

// Option tunes a breaker.
type Option func(*settings)

func positive(n int, dst *int) {
	if n > 0 {
		*dst = n
	}
}

// WithFailureThreshold opens the circuit after n consecutive failures. Default 5.
func WithFailureThreshold(n int) Option {
	return func(s *settings) { positive(n, &s.failureThreshold) }
}

// WithSuccessThreshold closes a half-open circuit after n successes. Default 2.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) { positive(n, &s.successThreshold) }
}

// WithTimeout is how long the circuit stays open before probing. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.openFor = d
		}
	}
}

// WithMaxHalfOpenRequests caps concurrent probes. Default 1.
func WithMaxHalfOpenRequests(n int) Option {
	return func(s *settings) { positive(n, &s.maxProbes) }
}

// WithOnStateChange is called under the breaker lock on every transition.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithIsFailure decides which errors count. Cancellation by the caller never
// counts. Without it every other non-nil error counts.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// ════════════════════════════════════════════════════════════════════════════
// Breaker
// ════════════════════════════════════════════════════════════════════════════

// Stats is a point-in-time view for health reporting.
type Stats struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            int64  `json:"requests"`
	Failures            int64  `json:"failures"`
	Rejected            int64  `json:"rejected"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// CircuitBreaker guards calls to one dependency. Outcomes of calls admitted
// before the last transition are ignored.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu         sync.Mutex
	state      State
	generation uint64
	reopenAt   time.Time
	probes     int
	successes  int
	failures   int
	stats      Stats
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		failureThreshold: 5,
		successThreshold: 2,
		openFor:          30 * time.Second,
		maxProbes:        1,
		clock:            clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Execute runs fn if the circuit admits it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.settle(gen, cb.classify(ctx, err))
	return err
}

type outcome int

const (
	neutral outcome = iota
	success
	failure
)

func (cb *CircuitBreaker) classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return success
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return neutral
	case cb.cfg.isFailure != nil && !cb.cfg.isFailure(err):
		return success
	default:
		return failure
	}
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	switch cb.state {
	case StateOpen:
		cb.stats.Rejected++
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.maxProbes {
			cb.stats.Rejected++
			return 0, ErrTooManyRequests
		}
		cb.probes++
	}
	cb.stats.Requests++
	return cb.generation, nil
}

func (cb *CircuitBreaker) settle(gen uint64, o outcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	if gen != cb.generation {
		return
	}
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}

	switch o {
	case success:
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.cfg.successThreshold {
			cb.transition(StateClosed)
		}
	case failure:
		cb.stats.Failures++
		cb.successes = 0
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.failureThreshold {
			cb.transition(StateOpen)
		}
	}
}

// refresh moves an expired open circuit to half-open. Caller holds mu.
func (cb *CircuitBreaker) refresh() {
	if cb.state == StateOpen && !cb.cfg.clock.Now().Before(cb.reopenAt) {
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.generation++
	cb.probes, cb.successes, cb.failures = 0, 0, 0
	if to == StateOpen {
		cb.reopenAt = cb.cfg.clock.Now().Add(cb.cfg.openFor)
	}
	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.name, from, to)
	}
}

// State returns the current state, promoting an expired open circuit.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// Stats returns counters since creation.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	s := cb.stats
	s.Name = cb.name
	s.State = cb.state.String()
	s.ConsecutiveFailures = cb.failures
	return s
}

// ════════════════════════════════════════════════════════════════════════════
// Presets
// ════════════════════════════════════════════════════════════════════════════

// RankAPIBreaker guards the remote rank service.
func RankAPIBreaker(onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	base := []Option{
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithTimeout(time.Minute),
		WithOnStateChange(onStateChange),
	}
	return New("rank-api", append(base, opts...)...)
}

// DatabaseBreaker guards snapshot storage.
func DatabaseBreaker(onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	base := []Option{
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(10 * time.Second),
		WithOnStateChange(onStateChange),
	}
	return New("database", append(base, opts...)...)
}
