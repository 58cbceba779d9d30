package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROBES
// ══════════════════════════════════════════════════════════════════════════════

// HealthCheckFunc probes one dependency. A non-nil error marks it unhealthy.
type HealthCheckFunc func(ctx context.Context) error

// InfoFunc returns a JSON-serializable detail for the health report.
type InfoFunc func() any

// HealthChecker is what the storage and transport layers register into.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	AddCheck(name string, check HealthCheckFunc)
	AddInfo(name string, info InfoFunc)
}

// Pinger is anything with a connectivity probe, such as the postgres
// connection or the redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck turns a Pinger into a check.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

var errBreakerOpen = errors.New("circuit breaker is open")

// NewBreakerCheck fails while the breaker reports "open".
func NewBreakerCheck(state func() string) HealthCheckFunc {
	return func(context.Context) error {
		if state() == "open" {
			return errBreakerOpen
		}
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORT
// ══════════════════════════════════════════════════════════════════════════════

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Details   map[string]any         `json:"details,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Healthy     bool      `json:"healthy"`
	Message     string    `json:"message,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	LastChecked time.Time `json:"last_checked,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// CompositeHealthChecker runs every registered probe concurrently, each
// under its own deadline.
type CompositeHealthChecker struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheckFunc
	infos  map[string]InfoFunc
}

// NewCompositeHealthChecker creates a checker with a 5s per-probe deadline.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		timeout: 5 * time.Second,
		checks:  map[string]HealthCheckFunc{},
		infos:   map[string]InfoFunc{},
	}
}

// AddCheck registers or replaces a probe.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// AddInfo registers or replaces a detail provider.
func (c *CompositeHealthChecker) AddInfo(name string, info InfoFunc) {
	c.mu.Lock()
	c.infos[name] = info
	c.mu.Unlock()
}

// Check runs all probes and collects the details.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	names, checks, infos := c.snapshot()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Version:   c.version,
		Timestamp: time.Now().UTC(),
	}
	if len(infos) > 0 {
		status.Details = make(map[string]any, len(infos))
		for name, info := range infos {
			status.Details[name] = info()
		}
	}
	if len(names) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.probe(ctx, checks[name])
		}()
	}
	wg.Wait()

	status.Checks = make(map[string]CheckResult, len(names))
	var failed []string
	for i, name := range names {
		status.Checks[name] = results[i]
		if !results[i].Healthy {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		status.Healthy, status.Ready = false, false
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	} else {
		status.Message = "All checks passed"
	}
	return status
}

func (c *CompositeHealthChecker) snapshot() ([]string, map[string]HealthCheckFunc, map[string]InfoFunc) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	checks := make(map[string]HealthCheckFunc, len(c.checks))
	for name, fn := range c.checks {
		names = append(names, name)
		checks[name] = fn
	}
	sort.Strings(names)

	infos := make(map[string]InfoFunc, len(c.infos))
	for name, fn := range c.infos {
		infos[name] = fn
	}
	return names, checks, infos
}

func (c *CompositeHealthChecker) probe(ctx context.Context, check HealthCheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := CheckResult{
		Healthy:     err == nil,
		Message:     "OK",
		Duration:    time.Since(start).Round(time.Millisecond).String(),
		LastChecked: time.Now().UTC(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}
